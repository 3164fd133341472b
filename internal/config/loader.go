package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidAnalysisProviders lists the registered text-generation backend names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidAnalysisProviders = []string{"gemini", "openai", "any-llm"}

// Load reads the YAML configuration file at path, overlays environment
// secrets, and returns a validated [Config]. A missing file is not an error:
// an empty config plus the environment overlay is often a complete setup.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := &Config{}
		ApplyEnv(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, overlays environment secrets,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays well-known environment variables onto cfg. Environment
// values win over file values so deployments can keep secrets out of the
// config file entirely.
func ApplyEnv(cfg *Config) {
	overlay := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	overlay(&cfg.Model.APIKey, "GEMINI_API_KEY")
	overlay(&cfg.Database.URL, "DATABASE_URL")
	overlay(&cfg.Notify.MSG91AuthKey, "MSG91_AUTH_KEY")
	overlay(&cfg.Notify.MSG91IntegratedNumber, "MSG91_INTEGRATED_NUMBER")
	overlay(&cfg.Notify.OwnerPhone, "OWNER_PHONE")
	overlay(&cfg.Telephony.APIKey, "EXOTEL_API_KEY")
	overlay(&cfg.Telephony.APIToken, "EXOTEL_API_TOKEN")
	overlay(&cfg.Telephony.AccountSID, "EXOTEL_ACCOUNT_SID")

	if port := os.Getenv("PORT"); port != "" {
		host := ""
		if h, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err == nil {
			host = h
		}
		cfg.Server.ListenAddr = net.JoinHostPort(host, port)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found; advisory
// conditions that disable optional features only log warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// The realtime model key is the one credential nothing works without.
	if cfg.Model.APIKey == "" {
		errs = append(errs, errors.New("model.api_key is required; set it in the config file or via GEMINI_API_KEY"))
	}

	if cfg.Analysis.Provider != "" && !slices.Contains(ValidAnalysisProviders, cfg.Analysis.Provider) {
		slog.Warn("unknown analysis provider name — may be a typo or third-party provider",
			"name", cfg.Analysis.Provider,
			"known", ValidAnalysisProviders,
		)
	}

	if cfg.Database.URL == "" {
		slog.Warn("database.url is empty; call records, analysis, and token usage will not be persisted")
	}
	if cfg.Notify.MSG91AuthKey == "" {
		slog.Warn("notify.msg91_auth_key is empty; WhatsApp notifications are disabled")
	} else if cfg.Notify.MSG91IntegratedNumber == "" {
		errs = append(errs, errors.New("notify.msg91_integrated_number is required when msg91_auth_key is set"))
	}

	// The REST credential set is all-or-nothing.
	tel := cfg.Telephony
	telSet := tel.APIKey != "" || tel.APIToken != "" || tel.AccountSID != ""
	telComplete := tel.APIKey != "" && tel.APIToken != "" && tel.AccountSID != ""
	if telSet && !telComplete {
		errs = append(errs, errors.New("telephony credentials are partial; api_key, api_token, and account_sid must all be set"))
	}
	if !telSet {
		slog.Warn("telephony credentials are empty; caller numbers will not be fetched and customer notifications will be skipped")
	}

	if d := cfg.Session.InactivityTimeout.Std(); d < 0 {
		errs = append(errs, fmt.Errorf("session.inactivity_timeout %s is negative", d))
	}
	if d := cfg.Session.MaxCallDuration.Std(); d < 0 {
		errs = append(errs, fmt.Errorf("session.max_call_duration %s is negative", d))
	}
	if d := cfg.Session.KeepAliveInterval.Std(); d < 0 {
		errs = append(errs, fmt.Errorf("session.keep_alive_interval %s is negative", d))
	}

	return errors.Join(errs...)
}

// SlogLevel maps the configured log level to a slog.Level. The empty level
// maps to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
