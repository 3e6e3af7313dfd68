// SPDX-License-Identifier: MIT

// Package config loads and validates the zapbridge configuration with the
// precedence ENV > file > defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete daemon configuration.
type Config struct {
	// HTTP control surface
	ListenAddr string `yaml:"listenAddr"`

	// Session gateway (the external protocol engine)
	GatewayURL string `yaml:"gatewayURL"`

	// Downstream webhook for inbound messages
	WebhookURL     string        `yaml:"webhookURL"`
	WebhookTimeout time.Duration `yaml:"webhookTimeout"`

	// Durable state
	DataDir    string `yaml:"dataDir"`
	OutboxPath string `yaml:"outboxPath"`

	// Delivery behaviour
	DefaultCountryCode string        `yaml:"defaultCountryCode"`
	PollInterval       time.Duration `yaml:"pollInterval"`
	ReconnectDelay     time.Duration `yaml:"reconnectDelay"`
	SendTimeout        time.Duration `yaml:"sendTimeout"`

	// Rate limiting for the send endpoint
	RateLimitRPS   int `yaml:"rateLimitRPS"`
	RateLimitBurst int `yaml:"rateLimitBurst"`

	// Observability
	LogLevel     string  `yaml:"logLevel"`
	LogService   string  `yaml:"logService"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	TraceSample  float64 `yaml:"traceSample"`

	// Version is injected at load time, not read from file.
	Version string `yaml:"-"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		ListenAddr:         ":3000",
		GatewayURL:         "ws://127.0.0.1:3001/ws",
		WebhookTimeout:     10 * time.Second,
		DataDir:            "/data",
		DefaultCountryCode: "55",
		PollInterval:       2 * time.Second,
		ReconnectDelay:     5 * time.Second,
		SendTimeout:        60 * time.Second,
		RateLimitRPS:       10,
		RateLimitBurst:     20,
		LogLevel:           "info",
		LogService:         "zapbridge",
		TraceSample:        1.0,
	}
}

// Loader loads configuration from an optional YAML file plus environment.
type Loader struct {
	path    string
	version string
}

// NewLoader creates a Loader for the given file path (may be empty).
func NewLoader(path, version string) *Loader {
	return &Loader{path: path, version: version}
}

// Load resolves configuration with precedence ENV > file > defaults and
// validates the result.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.path != "" {
		if err := mergeFile(&cfg, l.path); err != nil {
			return Config{}, err
		}
	}
	mergeEnv(&cfg)
	cfg.Version = l.version

	if cfg.OutboxPath == "" {
		cfg.OutboxPath = cfg.DefaultOutboxPath()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func mergeEnv(cfg *Config) {
	cfg.ListenAddr = ParseString("ZAPBRIDGE_LISTEN", cfg.ListenAddr)
	cfg.GatewayURL = ParseString("ZAPBRIDGE_GATEWAY_URL", cfg.GatewayURL)
	cfg.WebhookURL = ParseString("ZAPBRIDGE_WEBHOOK_URL", cfg.WebhookURL)
	cfg.WebhookTimeout = ParseDuration("ZAPBRIDGE_WEBHOOK_TIMEOUT", cfg.WebhookTimeout)
	cfg.DataDir = ParseString("ZAPBRIDGE_DATA", cfg.DataDir)
	cfg.OutboxPath = ParseString("ZAPBRIDGE_OUTBOX_PATH", cfg.OutboxPath)
	cfg.DefaultCountryCode = ParseString("ZAPBRIDGE_COUNTRY_CODE", cfg.DefaultCountryCode)
	cfg.PollInterval = ParseDuration("ZAPBRIDGE_POLL_INTERVAL", cfg.PollInterval)
	cfg.ReconnectDelay = ParseDuration("ZAPBRIDGE_RECONNECT_DELAY", cfg.ReconnectDelay)
	cfg.SendTimeout = ParseDuration("ZAPBRIDGE_SEND_TIMEOUT", cfg.SendTimeout)
	cfg.RateLimitRPS = ParseInt("ZAPBRIDGE_RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = ParseInt("ZAPBRIDGE_RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.LogLevel = ParseString("ZAPBRIDGE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = ParseString("ZAPBRIDGE_LOG_SERVICE", cfg.LogService)
	cfg.OTLPEndpoint = ParseString("ZAPBRIDGE_OTLP_ENDPOINT", cfg.OTLPEndpoint)
}

// Validate checks the configuration for values the daemon cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if err := validateWSURL(c.GatewayURL); err != nil {
		return fmt.Errorf("gateway URL: %w", err)
	}
	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("webhook URL %q must be http(s)", c.WebhookURL)
		}
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("webhook timeout must be positive, got %s", c.WebhookTimeout)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", c.ReconnectDelay)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("send timeout must be positive, got %s", c.SendTimeout)
	}
	for _, r := range c.DefaultCountryCode {
		if r < '0' || r > '9' {
			return fmt.Errorf("default country code %q must be digits only", c.DefaultCountryCode)
		}
	}
	return nil
}

// CredentialDir returns the directory used by the session credential store.
func (c Config) CredentialDir() string {
	return filepath.Join(c.DataDir, "credentials")
}

// DefaultOutboxPath returns the queue slot path derived from the data dir.
func (c Config) DefaultOutboxPath() string {
	return filepath.Join(c.DataDir, "pending_message.json")
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%q must use ws or wss scheme", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
