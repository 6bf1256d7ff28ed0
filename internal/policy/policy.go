package policy

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
)

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// CheckProvidersKnown rejects a provider allowlist naming providers that are
// not built in, so a typo never silently disables routing.
func CheckProvidersKnown(allowlist, known []string) error {
	for _, name := range allowlist {
		found := false
		for _, k := range known {
			if normalize(k) == normalize(name) {
				found = true
				break
			}
		}
		if !found {
			return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown provider %q in --enable-providers (known: %s)", name, strings.Join(known, ", ")))
		}
	}
	return nil
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
