package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/crossroute/internal/registry"
)

type GlobalFlags struct {
	ConfigPath      string
	JSON            bool
	Plain           bool
	Select          string
	ResultsOnly     bool
	EnableCommands  string
	EnableProviders string
	Timeout         string
	Retries         int
	LogLevel        string
	LogFormat       string
	Listen          string
}

type Settings struct {
	OutputMode      string
	SelectFields    []string
	ResultsOnly     bool
	EnableCommands  []string
	EnableProviders []string
	Timeout         time.Duration
	Retries         int

	ListenAddr string
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	RateBurst int
	LogLevel  string
	LogFormat string

	InactivityTTL time.Duration
	Retention     time.Duration
	SweepSpec     string
	QuoteTimeout  time.Duration
	BuildTimeout  time.Duration
	StatusTimeout time.Duration

	PlanBookPath     string
	PlanBookLockPath string
	JournalEnabled   bool
	JournalPath      string
	JournalLockPath  string

	ChangeNowAPIKey string
	JupiterAPIKey   string
	// ProviderURLs overrides provider API roots, keyed by provider name.
	ProviderURLs map[string]string
	RPCOverrides map[int64]string
}

type providerConfig struct {
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Server  struct {
		Listen    string   `yaml:"listen"`
		RateLimit *float64 `yaml:"rate_limit"`
		RateBurst *int     `yaml:"rate_burst"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Planner struct {
		QuoteTimeout  string `yaml:"quote_timeout"`
		PlansPath     string `yaml:"plans_path"`
		PlansLockPath string `yaml:"plans_lock_path"`
	} `yaml:"planner"`
	Execution struct {
		InactivityTTL   string `yaml:"inactivity_ttl"`
		Retention       string `yaml:"retention"`
		Sweep           string `yaml:"sweep"`
		BuildTimeout    string `yaml:"build_timeout"`
		StatusTimeout   string `yaml:"status_timeout"`
		Journal         *bool  `yaml:"journal"`
		JournalPath     string `yaml:"journal_path"`
		JournalLockPath string `yaml:"journal_lock_path"`
	} `yaml:"execution"`
	Providers struct {
		Enabled   []string       `yaml:"enabled"`
		LiFi      providerConfig `yaml:"lifi"`
		Across    providerConfig `yaml:"across"`
		Jupiter   providerConfig `yaml:"jupiter"`
		ChangeNow providerConfig `yaml:"changenow"`
	} `yaml:"providers"`
	RPC map[string]string `yaml:"rpc"`
}

var urlProviders = []string{"lifi", "across", "jupiter", "changenow"}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}

	return settings, validate(settings)
}

func defaultSettings() (Settings, error) {
	dir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:       "json",
		Timeout:          10 * time.Second,
		Retries:          2,
		ListenAddr:       ":8080",
		RateLimit:        20,
		RateBurst:        40,
		LogLevel:         "info",
		LogFormat:        "text",
		InactivityTTL:    30 * time.Minute,
		Retention:        24 * time.Hour,
		SweepSpec:        "@every 1m",
		QuoteTimeout:     15 * time.Second,
		BuildTimeout:     10 * time.Second,
		StatusTimeout:    5 * time.Second,
		PlanBookPath:     filepath.Join(dir, "plans.db"),
		PlanBookLockPath: filepath.Join(dir, "plans.lock"),
		JournalEnabled:   true,
		JournalPath:      filepath.Join(dir, "executions.db"),
		JournalLockPath:  filepath.Join(dir, "executions.lock"),
		ProviderURLs:     map[string]string{},
		RPCOverrides:     map[int64]string{},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	if v := os.Getenv("CROSSROUTE_CONFIG"); v != "" {
		return v, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "crossroute", "config.yaml"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "crossroute"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	durations := []struct {
		key   string
		raw   string
		value *time.Duration
	}{
		{"timeout", cfg.Timeout, &settings.Timeout},
		{"planner.quote_timeout", cfg.Planner.QuoteTimeout, &settings.QuoteTimeout},
		{"execution.inactivity_ttl", cfg.Execution.InactivityTTL, &settings.InactivityTTL},
		{"execution.retention", cfg.Execution.Retention, &settings.Retention},
		{"execution.build_timeout", cfg.Execution.BuildTimeout, &settings.BuildTimeout},
		{"execution.status_timeout", cfg.Execution.StatusTimeout, &settings.StatusTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.key, err)
		}
		*d.value = parsed
	}

	if cfg.Server.Listen != "" {
		settings.ListenAddr = cfg.Server.Listen
	}
	if cfg.Server.RateLimit != nil {
		settings.RateLimit = *cfg.Server.RateLimit
	}
	if cfg.Server.RateBurst != nil {
		settings.RateBurst = *cfg.Server.RateBurst
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = strings.ToLower(cfg.Log.Format)
	}
	if cfg.Execution.Sweep != "" {
		settings.SweepSpec = cfg.Execution.Sweep
	}
	if cfg.Execution.Journal != nil {
		settings.JournalEnabled = *cfg.Execution.Journal
	}
	if cfg.Execution.JournalPath != "" {
		settings.JournalPath = cfg.Execution.JournalPath
	}
	if cfg.Execution.JournalLockPath != "" {
		settings.JournalLockPath = cfg.Execution.JournalLockPath
	}
	if cfg.Planner.PlansPath != "" {
		settings.PlanBookPath = cfg.Planner.PlansPath
	}
	if cfg.Planner.PlansLockPath != "" {
		settings.PlanBookLockPath = cfg.Planner.PlansLockPath
	}

	if len(cfg.Providers.Enabled) > 0 {
		settings.EnableProviders = splitList(strings.Join(cfg.Providers.Enabled, ","))
	}
	if key := cfg.Providers.Jupiter.key(); key != "" {
		settings.JupiterAPIKey = key
	}
	if key := cfg.Providers.ChangeNow.key(); key != "" {
		settings.ChangeNowAPIKey = key
	}
	for name, p := range map[string]providerConfig{
		"lifi":      cfg.Providers.LiFi,
		"across":    cfg.Providers.Across,
		"jupiter":   cfg.Providers.Jupiter,
		"changenow": cfg.Providers.ChangeNow,
	} {
		if p.BaseURL != "" {
			settings.ProviderURLs[name] = strings.TrimSpace(p.BaseURL)
		}
	}

	for rawID, url := range cfg.RPC {
		chainID, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
		if err != nil || chainID <= 0 {
			return fmt.Errorf("config rpc: invalid chain id %q", rawID)
		}
		settings.RPCOverrides[chainID] = strings.TrimSpace(url)
	}

	return nil
}

// key resolves the api key, preferring the named env var when set.
func (p providerConfig) key() string {
	if p.APIKeyEnv != "" {
		if v := os.Getenv(p.APIKeyEnv); v != "" {
			return v
		}
	}
	return p.APIKey
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("CROSSROUTE_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("CROSSROUTE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	durations := map[string]*time.Duration{
		"CROSSROUTE_TIMEOUT":        &settings.Timeout,
		"CROSSROUTE_QUOTE_TIMEOUT":  &settings.QuoteTimeout,
		"CROSSROUTE_INACTIVITY_TTL": &settings.InactivityTTL,
		"CROSSROUTE_RETENTION":      &settings.Retention,
		"CROSSROUTE_BUILD_TIMEOUT":  &settings.BuildTimeout,
		"CROSSROUTE_STATUS_TIMEOUT": &settings.StatusTimeout,
	}
	for key, target := range durations {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*target = d
			}
		}
	}
	if v := os.Getenv("CROSSROUTE_LISTEN"); v != "" {
		settings.ListenAddr = v
	}
	if v := os.Getenv("CROSSROUTE_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.RateLimit = f
		}
	}
	if v := os.Getenv("CROSSROUTE_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.RateBurst = n
		}
	}
	if v := os.Getenv("CROSSROUTE_LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := os.Getenv("CROSSROUTE_LOG_FORMAT"); v != "" {
		settings.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("CROSSROUTE_SWEEP"); v != "" {
		settings.SweepSpec = v
	}
	if v := os.Getenv("CROSSROUTE_NO_JOURNAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.JournalEnabled = !b
		}
	}
	if v := os.Getenv("CROSSROUTE_JOURNAL_PATH"); v != "" {
		settings.JournalPath = v
	}
	if v := os.Getenv("CROSSROUTE_JOURNAL_LOCK_PATH"); v != "" {
		settings.JournalLockPath = v
	}
	if v := os.Getenv("CROSSROUTE_PLANS_PATH"); v != "" {
		settings.PlanBookPath = v
	}
	if v := os.Getenv("CROSSROUTE_PLANS_LOCK_PATH"); v != "" {
		settings.PlanBookLockPath = v
	}
	if v := os.Getenv("CROSSROUTE_PROVIDERS"); v != "" {
		settings.EnableProviders = splitList(v)
	}
	if v := os.Getenv("CROSSROUTE_JUPITER_API_KEY"); v != "" {
		settings.JupiterAPIKey = v
	}
	if v := os.Getenv("CROSSROUTE_CHANGENOW_API_KEY"); v != "" {
		settings.ChangeNowAPIKey = v
	}
	for _, name := range urlProviders {
		if v := os.Getenv("CROSSROUTE_" + strings.ToUpper(name) + "_URL"); v != "" {
			settings.ProviderURLs[name] = strings.TrimSpace(v)
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitList(flags.EnableCommands)
	}
	if strings.TrimSpace(flags.EnableProviders) != "" {
		settings.EnableProviders = splitList(flags.EnableProviders)
	}

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.LogFormat != "" {
		settings.LogFormat = strings.ToLower(flags.LogFormat)
	}
	if flags.Listen != "" {
		settings.ListenAddr = flags.Listen
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func validate(settings Settings) error {
	if settings.LogFormat != "text" && settings.LogFormat != "json" {
		return fmt.Errorf("log format must be text or json")
	}
	if settings.RateLimit < 0 || settings.RateBurst < 0 {
		return fmt.Errorf("rate limit and burst must not be negative")
	}
	if settings.InactivityTTL <= 0 || settings.Retention <= 0 {
		return fmt.Errorf("execution ttl and retention must be positive")
	}
	if settings.QuoteTimeout <= 0 || settings.BuildTimeout <= 0 || settings.StatusTimeout <= 0 {
		return fmt.Errorf("planner and execution timeouts must be positive")
	}
	names := make([]string, 0, len(settings.ProviderURLs))
	for name := range settings.ProviderURLs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !registry.IsAllowedProviderURL(name, settings.ProviderURLs[name]) {
			return fmt.Errorf("base url for %s must be https on the provider host or a loopback address", name)
		}
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		v := strings.TrimSpace(part)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
