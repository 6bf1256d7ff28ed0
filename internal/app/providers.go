package app

import (
	"github.com/ggonzalez94/crossroute/internal/config"
	"github.com/ggonzalez94/crossroute/internal/httpx"
	"github.com/ggonzalez94/crossroute/internal/metrics"
	"github.com/ggonzalez94/crossroute/internal/policy"
	"github.com/ggonzalez94/crossroute/internal/providers"
	"github.com/ggonzalez94/crossroute/internal/providers/across"
	"github.com/ggonzalez94/crossroute/internal/providers/changenow"
	"github.com/ggonzalez94/crossroute/internal/providers/jupiter"
	"github.com/ggonzalez94/crossroute/internal/providers/lifi"
	"github.com/ggonzalez94/crossroute/internal/providers/native"
	"github.com/ggonzalez94/crossroute/internal/providers/taikoswap"
)

var knownProviders = []string{"across", "changenow", "jupiter", "lifi", "native", "taikoswap"}

func (s *runtimeState) providerRegistry() (*providers.Registry, error) {
	if s.registry != nil {
		return s.registry, nil
	}
	if err := policy.CheckProvidersKnown(s.settings.EnableProviders, knownProviders); err != nil {
		return nil, err
	}
	s.registry = buildRegistry(s.settings)
	return s.registry, nil
}

func buildRegistry(settings config.Settings) *providers.Registry {
	httpClient := httpx.New(settings.Timeout, settings.Retries).WithObserver(metrics.ObserveProviderCall)
	all := providers.NewRegistry(
		lifi.New(httpClient).WithBaseURL(settings.ProviderURLs["lifi"]),
		across.New(httpClient).WithBaseURL(settings.ProviderURLs["across"]),
		jupiter.New(httpClient, settings.JupiterAPIKey).WithBaseURL(settings.ProviderURLs["jupiter"]),
		changenow.New(httpClient, settings.ChangeNowAPIKey).WithBaseURL(settings.ProviderURLs["changenow"]),
		native.New(settings.RPCOverrides),
		taikoswap.New(settings.RPCOverrides),
	)
	return all.Restrict(settings.EnableProviders)
}
