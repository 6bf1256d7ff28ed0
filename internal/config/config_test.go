package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmp, "state"))
	t.Setenv("CROSSROUTE_CONFIG", "")
	return tmp
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	tmp := isolate(t)
	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "json" || settings.Retries != 2 {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
	if settings.InactivityTTL != 30*time.Minute || settings.Retention != 24*time.Hour {
		t.Fatalf("unexpected ttl defaults: %s %s", settings.InactivityTTL, settings.Retention)
	}
	if settings.SweepSpec != "@every 1m" || settings.StatusTimeout != 5*time.Second || settings.BuildTimeout != 10*time.Second {
		t.Fatalf("unexpected execution defaults: %+v", settings)
	}
	if !strings.HasPrefix(settings.JournalPath, filepath.Join(tmp, "state", "crossroute")) {
		t.Fatalf("unexpected journal path %s", settings.JournalPath)
	}
	if !settings.JournalEnabled {
		t.Fatal("expected journal enabled by default")
	}
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := isolate(t)
	configPath := writeConfig(t, tmp, "output: plain\nretries: 1\nserver:\n  listen: \":7000\"\n")

	t.Setenv("CROSSROUTE_OUTPUT", "json")
	t.Setenv("CROSSROUTE_LISTEN", ":7100")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.ListenAddr != ":7100" {
		t.Fatalf("expected env to beat file, got listen=%s", settings.ListenAddr)
	}

	settings, err = Load(GlobalFlags{ConfigPath: configPath, Retries: -1, Listen: ":7200"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.ListenAddr != ":7200" || settings.Retries != 1 {
		t.Fatalf("unexpected settings: listen=%s retries=%d", settings.ListenAddr, settings.Retries)
	}
}

func TestLoadFileSections(t *testing.T) {
	tmp := isolate(t)
	t.Setenv("MY_CN_KEY", "cn-from-env")
	configPath := writeConfig(t, tmp, `
log:
  level: debug
  format: json
execution:
  inactivity_ttl: 10m
  retention: 2h
  sweep: "@every 30s"
  status_timeout: 2s
  journal: false
planner:
  quote_timeout: 8s
  plans_path: /tmp/x/plans.db
providers:
  enabled: [lifi, changenow]
  jupiter:
    api_key: jup-key
  changenow:
    api_key: ignored
    api_key_env: MY_CN_KEY
  lifi:
    base_url: http://127.0.0.1:9999/v1
rpc:
  "8453": https://base.example.org
`)
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.LogLevel != "debug" || settings.LogFormat != "json" {
		t.Fatalf("unexpected log settings: %s %s", settings.LogLevel, settings.LogFormat)
	}
	if settings.InactivityTTL != 10*time.Minute || settings.Retention != 2*time.Hour || settings.StatusTimeout != 2*time.Second {
		t.Fatalf("unexpected durations: %+v", settings)
	}
	if settings.SweepSpec != "@every 30s" || settings.QuoteTimeout != 8*time.Second {
		t.Fatalf("unexpected sweep/quote settings: %+v", settings)
	}
	if settings.JournalEnabled {
		t.Fatal("expected journal disabled")
	}
	if settings.PlanBookPath != "/tmp/x/plans.db" {
		t.Fatalf("unexpected plan book path %s", settings.PlanBookPath)
	}
	if strings.Join(settings.EnableProviders, ",") != "lifi,changenow" {
		t.Fatalf("unexpected providers %v", settings.EnableProviders)
	}
	if settings.JupiterAPIKey != "jup-key" || settings.ChangeNowAPIKey != "cn-from-env" {
		t.Fatalf("unexpected keys: %q %q", settings.JupiterAPIKey, settings.ChangeNowAPIKey)
	}
	if settings.ProviderURLs["lifi"] != "http://127.0.0.1:9999/v1" {
		t.Fatalf("unexpected lifi url %q", settings.ProviderURLs["lifi"])
	}
	if settings.RPCOverrides[8453] != "https://base.example.org" {
		t.Fatalf("unexpected rpc overrides %v", settings.RPCOverrides)
	}
}

func TestLoadRejectsForeignProviderURL(t *testing.T) {
	tmp := isolate(t)
	configPath := writeConfig(t, tmp, "providers:\n  across:\n    base_url: https://evil.example.com/api\n")
	if _, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1}); err == nil {
		t.Fatal("expected foreign provider url to be rejected")
	}

	t.Setenv("CROSSROUTE_CHANGENOW_URL", "http://api.changenow.io/v2")
	if _, err := Load(GlobalFlags{Retries: -1}); err == nil {
		t.Fatal("expected plain http provider url to be rejected")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tmp := isolate(t)
	cases := map[string]string{
		"bad duration": "execution:\n  retention: soon\n",
		"bad chain id": "rpc:\n  base: https://x\n",
		"bad yaml":     "server: [",
		"bad format":   "log:\n  format: xml\n",
		"zero ttl":     "execution:\n  inactivity_ttl: 0s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, filepath.Join(tmp), body)
			if _, err := Load(GlobalFlags{ConfigPath: path, Retries: -1}); err == nil {
				t.Fatalf("expected error for %q", body)
			}
		})
	}
}

func TestLoadEnvProvidersAndFlagsOverride(t *testing.T) {
	isolate(t)
	t.Setenv("CROSSROUTE_PROVIDERS", "lifi, across")
	t.Setenv("CROSSROUTE_STATUS_TIMEOUT", "3s")
	t.Setenv("CROSSROUTE_NO_JOURNAL", "true")

	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if strings.Join(settings.EnableProviders, ",") != "lifi,across" {
		t.Fatalf("unexpected env providers %v", settings.EnableProviders)
	}
	if settings.StatusTimeout != 3*time.Second || settings.JournalEnabled {
		t.Fatalf("unexpected env settings: %+v", settings)
	}

	settings, err = Load(GlobalFlags{Retries: -1, EnableProviders: "jupiter"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if strings.Join(settings.EnableProviders, ",") != "jupiter" {
		t.Fatalf("expected flag providers, got %v", settings.EnableProviders)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	isolate(t)
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}
