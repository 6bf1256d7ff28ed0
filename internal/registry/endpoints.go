package registry

import (
	"net"
	"net/url"
	"strings"
)

const (
	LiFiBaseURL      = "https://li.quest/v1"
	AcrossBaseURL    = "https://app.across.to/api"
	JupiterBaseURL   = "https://api.jup.ag/swap/v1"
	ChangeNowBaseURL = "https://api.changenow.io/v2"
	SolanaRPCURL     = "https://api.mainnet-beta.solana.com"
)

// ProviderBaseURL returns the canonical API root for a provider.
func ProviderBaseURL(provider string) (string, bool) {
	switch normalizeProvider(provider) {
	case "lifi":
		return LiFiBaseURL, true
	case "across":
		return AcrossBaseURL, true
	case "jupiter":
		return JupiterBaseURL, true
	case "changenow":
		return ChangeNowBaseURL, true
	default:
		return "", false
	}
}

// IsAllowedProviderURL reports whether endpoint may replace the provider's
// canonical API root. Loopback hosts are always accepted for local testing;
// anything else must be https on the canonical host.
func IsAllowedProviderURL(provider, endpoint string) bool {
	if strings.TrimSpace(endpoint) == "" {
		return true
	}
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	if isLoopbackHost(parsed.Hostname()) {
		scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
		return scheme == "http" || scheme == "https"
	}
	if !strings.EqualFold(strings.TrimSpace(parsed.Scheme), "https") {
		return false
	}
	allowedRaw, ok := ProviderBaseURL(provider)
	if !ok {
		return false
	}
	allowed, err := url.Parse(allowedRaw)
	if err != nil {
		return false
	}
	if !strings.EqualFold(parsed.Hostname(), allowed.Hostname()) {
		return false
	}
	return normalizedURLPort(parsed) == normalizedURLPort(allowed)
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func normalizedURLPort(parsed *url.URL) string {
	if parsed == nil {
		return ""
	}
	if port := strings.TrimSpace(parsed.Port()); port != "" {
		return port
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
