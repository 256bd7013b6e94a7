package presaled

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for presaled. The sale
// parameters themselves live in the TOML deployment file.
type Config struct {
	ListenAddress   string                    `yaml:"listen"`
	Deployment      string                    `yaml:"deployment"`
	DataDir         string                    `yaml:"data_dir"`
	PassphraseEnv   string                    `yaml:"passphrase_env"`
	RequestTimeout  Duration                  `yaml:"request_timeout"`
	ShutdownTimeout Duration                  `yaml:"shutdown_timeout"`
	Receipts        ReceiptsConfig            `yaml:"receipts"`
	Auth            AuthConfig                `yaml:"auth"`
	RateLimits      map[string]RateLimitEntry `yaml:"rate_limits"`
	CORSOrigins     []string                  `yaml:"cors_origins"`
	Log             LogConfig                 `yaml:"log"`
	Telemetry       TelemetryConfig           `yaml:"telemetry"`
}

// ReceiptsConfig selects the receipt index database. Driver is "sqlite" or
// "postgres".
type ReceiptsConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	Enabled         bool     `yaml:"enabled"`
	HMACSecret      string   `yaml:"hmac_secret"`
	HMACSecretFile  string   `yaml:"hmac_secret_file"`
	Issuer          string   `yaml:"issuer"`
	Audience        string   `yaml:"audience"`
	ClockSkew       Duration `yaml:"clock_skew"`
	DevCallerHeader string   `yaml:"dev_caller_header"`
}

type RateLimitEntry struct {
	RatePerSecond float64 `yaml:"rps"`
	Burst         int     `yaml:"burst"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Requests   bool   `yaml:"requests"`
}

type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Deployment == "" {
		cfg.Deployment = "deployment.toml"
	}
	if cfg.PassphraseEnv == "" {
		cfg.PassphraseEnv = "BUNNYRIVEN_AUTHORITY_PASSPHRASE"
	}
	if cfg.RequestTimeout.Duration <= 0 {
		cfg.RequestTimeout.Duration = 10 * time.Second
	}
	if cfg.ShutdownTimeout.Duration <= 0 {
		cfg.ShutdownTimeout.Duration = 10 * time.Second
	}
	if cfg.Receipts.Driver == "" {
		cfg.Receipts.Driver = "sqlite"
	}
	if cfg.Receipts.Driver == "sqlite" && cfg.Receipts.DSN == "" {
		cfg.Receipts.DSN = "file:receipts.db?_pragma=busy_timeout(5000)"
	}
}

func (a *AuthConfig) normalise() error {
	if a.HMACSecretFile != "" {
		data, err := os.ReadFile(a.HMACSecretFile)
		if err != nil {
			return fmt.Errorf("read hmac secret: %w", err)
		}
		a.HMACSecret = strings.TrimSpace(string(data))
	}
	return nil
}

func validateConfig(cfg Config) error {
	switch cfg.Receipts.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("receipts.driver %q unsupported", cfg.Receipts.Driver)
	}
	if cfg.Receipts.DSN == "" {
		return fmt.Errorf("receipts.dsn required")
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth.hmac_secret required when auth is enabled")
	}
	if cfg.Auth.Enabled && cfg.Auth.DevCallerHeader != "" {
		return fmt.Errorf("auth.dev_caller_header only allowed with auth disabled")
	}
	for group, limit := range cfg.RateLimits {
		if limit.RatePerSecond < 0 || limit.Burst < 0 {
			return fmt.Errorf("rate_limits.%s: values must not be negative", group)
		}
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	return nil
}
