package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tierlend/crypto"
)

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress  string          `yaml:"listen"`
	ProtocolConfig string          `yaml:"protocol_config"`
	TLS            TLSConfig       `yaml:"tls"`
	Auth           AuthConfig      `yaml:"auth"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Keeper         KeeperConfig    `yaml:"keeper"`
	Verifier       VerifierConfig  `yaml:"verifier"`
}

// VerifierConfig points at the external attestation verification service. An
// empty URL disables the proof submission path.
type VerifierConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int64  `yaml:"timeout_seconds"`
}

// Timeout returns the configured verifier call timeout, defaulting to 10s.
func (cfg VerifierConfig) Timeout() time.Duration {
	if cfg.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig lists the bearer tokens accepted by the service.
type AuthConfig struct {
	APITokens []string `yaml:"api_tokens"`
}

// RateLimitConfig bounds per-client request rates on mutating endpoints.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// KeeperConfig drives the background liquidation sweep and index roll-forward.
type KeeperConfig struct {
	Enabled         bool   `yaml:"enabled"`
	IntervalSeconds int64  `yaml:"interval_seconds"`
	Address         string `yaml:"address"`
}

// Interval returns the configured sweep cooldown, defaulting to one minute.
func (cfg KeeperConfig) Interval() time.Duration {
	if cfg.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(cfg.IntervalSeconds) * time.Second
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress:  ":8470",
		ProtocolConfig: "tierlend.toml",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8470"
	}
	cfg.ProtocolConfig = strings.TrimSpace(cfg.ProtocolConfig)
	if cfg.ProtocolConfig == "" {
		cfg.ProtocolConfig = "tierlend.toml"
	}
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.Keeper.Address = strings.TrimSpace(cfg.Keeper.Address)
	cfg.Verifier.URL = strings.TrimSpace(cfg.Verifier.URL)
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if len(cfg.Auth.APITokens) == 0 {
		return fmt.Errorf("auth: at least one api token must be configured")
	}
	if cfg.Keeper.Enabled {
		if cfg.Keeper.Address == "" {
			return fmt.Errorf("keeper: address is required when the keeper loop is enabled")
		}
		if _, err := crypto.DecodeAddress(cfg.Keeper.Address); err != nil {
			return fmt.Errorf("keeper: address: %w", err)
		}
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	tokens := make([]string, 0, len(cfg.APITokens))
	for _, token := range cfg.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	cfg.APITokens = tokens
}
