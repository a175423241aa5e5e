// Package config provides configuration loading for supportd.
//
// Configuration is read from a YAML file and overridden by environment
// variables. Every section has defaults, so an empty file is a valid setup
// that talks to providers on localhost.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete supportd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Events    EventsConfig    `koanf:"events"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Registry  RegistryConfig  `koanf:"registry"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Input     InputConfig     `koanf:"input"`
	Output    OutputConfig    `koanf:"output"`
	Advisory  AdvisoryConfig  `koanf:"advisory"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RequestTimeout bounds one chat request end to end.
	RequestTimeout Duration `koanf:"request_timeout"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled        bool    `koanf:"enabled"`
	Endpoint       string  `koanf:"endpoint"`
	Protocol       string  `koanf:"protocol"`
	Insecure       bool    `koanf:"insecure"`
	ServiceName    string  `koanf:"service_name"`
	ServiceVersion string  `koanf:"service_version"`
	SampleRate     float64 `koanf:"sample_rate"`
}

// EventsConfig configures the session event bus.
// With Embedded set, an in-process NATS server is started and URL is ignored.
type EventsConfig struct {
	Embedded bool   `koanf:"embedded"`
	URL      string `koanf:"url"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
}

// LedgerConfig configures durable ticket and task storage.
type LedgerConfig struct {
	Path string `koanf:"path"`
}

// RegistryConfig lists providers contacted at startup.
type RegistryConfig struct {
	Addresses        []string `koanf:"addresses"`
	HandshakeTimeout Duration `koanf:"handshake_timeout"`
}

// DispatchConfig tunes the send-then-poll loop.
type DispatchConfig struct {
	InitialInterval Duration `koanf:"initial_interval"`
	MaxInterval     Duration `koanf:"max_interval"`
	Multiplier      float64  `koanf:"multiplier"`
	MaxAttempts     uint     `koanf:"max_attempts"`
	Deadline        Duration `koanf:"deadline"`
	RequestTimeout  Duration `koanf:"request_timeout"`
	RateLimit       float64  `koanf:"rate_limit"`
	Burst           int      `koanf:"burst"`
}

// PipelineConfig maps each stage to a registered provider name.
type PipelineConfig struct {
	Normalize       string `koanf:"normalize"`
	Classify        string `koanf:"classify"`
	Knowledge       string `koanf:"knowledge"`
	Memory          string `koanf:"memory"`
	Reasoning       string `koanf:"reasoning"`
	Synthesize      string `koanf:"synthesize"`
	StoreResolution bool   `koanf:"store_resolution"`
}

// InputConfig configures the input guardrail defaults.
type InputConfig struct {
	MinLength      int      `koanf:"min_length"`
	MaxLength      int      `koanf:"max_length"`
	CheckInjection bool     `koanf:"check_injection"`
	Sanitize       bool     `koanf:"sanitize"`
	Blocklist      []string `koanf:"blocklist"`
	Advisory       bool     `koanf:"advisory"`
}

// OutputConfig configures the output guardrail defaults.
type OutputConfig struct {
	Currency         bool `koanf:"currency"`
	SSNCard          bool `koanf:"ssn_card"`
	LongNumeric      bool `koanf:"long_numeric"`
	SensitivePhrases bool `koanf:"sensitive_phrases"`
	// SensitiveMode is "redact" or "block".
	SensitiveMode string `koanf:"sensitive_mode"`
	Credentials   bool   `koanf:"credentials"`
	AllowlistPath string `koanf:"allowlist_path"`
	Advisory      bool   `koanf:"advisory"`
}

// AdvisoryConfig configures the language-model classifier used by both guardrails.
type AdvisoryConfig struct {
	Enabled   bool     `koanf:"enabled"`
	BaseURL   string   `koanf:"base_url"`
	Model     string   `koanf:"model"`
	APIKey    Secret   `koanf:"api_key"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Events.Embedded = true
	cfg.Pipeline.StoreResolution = true
	cfg.Input.CheckInjection = true
	cfg.Input.Sanitize = true
	cfg.Output.Currency = true
	cfg.Output.SSNCard = true
	cfg.Output.LongNumeric = true
	cfg.Output.SensitivePhrases = true
	cfg.Output.Credentials = true
	cfg.Input.Advisory = true
	cfg.Output.Advisory = true
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8083
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = Duration(5 * time.Minute)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "supportd"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Events.Host == "" {
		cfg.Events.Host = "127.0.0.1"
	}
	if cfg.Events.Port == 0 {
		cfg.Events.Port = -1
	}

	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "~/.local/share/supportd/ledger.db"
	}

	if cfg.Registry.HandshakeTimeout == 0 {
		cfg.Registry.HandshakeTimeout = Duration(10 * time.Second)
	}

	if cfg.Dispatch.InitialInterval == 0 {
		cfg.Dispatch.InitialInterval = Duration(500 * time.Millisecond)
	}
	if cfg.Dispatch.MaxInterval == 0 {
		cfg.Dispatch.MaxInterval = Duration(5 * time.Second)
	}
	if cfg.Dispatch.Multiplier == 0 {
		cfg.Dispatch.Multiplier = 1.5
	}
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = 120
	}
	if cfg.Dispatch.Deadline == 0 {
		cfg.Dispatch.Deadline = Duration(2 * time.Minute)
	}
	if cfg.Dispatch.RequestTimeout == 0 {
		cfg.Dispatch.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.Dispatch.RateLimit == 0 {
		cfg.Dispatch.RateLimit = 50
	}
	if cfg.Dispatch.Burst == 0 {
		cfg.Dispatch.Burst = 10
	}

	if cfg.Pipeline.Normalize == "" {
		cfg.Pipeline.Normalize = "Ingestion Agent"
	}
	if cfg.Pipeline.Classify == "" {
		cfg.Pipeline.Classify = "Intent Agent"
	}
	if cfg.Pipeline.Knowledge == "" {
		cfg.Pipeline.Knowledge = "RAG Agent"
	}
	if cfg.Pipeline.Memory == "" {
		cfg.Pipeline.Memory = "Memory Agent"
	}
	if cfg.Pipeline.Reasoning == "" {
		cfg.Pipeline.Reasoning = "Reasoning Agent"
	}
	if cfg.Pipeline.Synthesize == "" {
		cfg.Pipeline.Synthesize = "Response Agent"
	}

	if cfg.Input.MinLength == 0 {
		cfg.Input.MinLength = 1
	}
	if cfg.Input.MaxLength == 0 {
		cfg.Input.MaxLength = 32000
	}

	if cfg.Output.SensitiveMode == "" {
		cfg.Output.SensitiveMode = "redact"
	}

	if cfg.Advisory.BaseURL == "" {
		cfg.Advisory.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Advisory.Model == "" {
		cfg.Advisory.Model = "gpt-4o-mini"
	}
	if cfg.Advisory.Timeout == 0 {
		cfg.Advisory.Timeout = Duration(5 * time.Second)
	}
	if cfg.Advisory.RateLimit == 0 {
		cfg.Advisory.RateLimit = 5
	}
	if cfg.Advisory.Burst == 0 {
		cfg.Advisory.Burst = 5
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
		return fmt.Errorf("telemetry protocol must be 'grpc' or 'http', got %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample rate must be within [0,1], got %v", c.Telemetry.SampleRate)
	}
	if !c.Events.Embedded && c.Events.URL == "" {
		return errors.New("events url required when embedded server is disabled")
	}
	if c.Dispatch.Multiplier < 1 {
		return fmt.Errorf("dispatch multiplier must be >= 1, got %v", c.Dispatch.Multiplier)
	}
	if c.Dispatch.MaxInterval < c.Dispatch.InitialInterval {
		return errors.New("dispatch max interval must not be below initial interval")
	}
	if c.Input.MinLength < 0 || c.Input.MaxLength < c.Input.MinLength {
		return fmt.Errorf("invalid input length bounds [%d,%d]", c.Input.MinLength, c.Input.MaxLength)
	}
	for _, term := range c.Input.Blocklist {
		if strings.TrimSpace(term) == "" {
			return errors.New("input blocklist contains an empty term")
		}
	}
	if c.Output.SensitiveMode != "redact" && c.Output.SensitiveMode != "block" {
		return fmt.Errorf("output sensitive_mode must be 'redact' or 'block', got %q", c.Output.SensitiveMode)
	}
	if c.Advisory.Enabled && !c.Advisory.APIKey.IsSet() {
		return errors.New("advisory api_key required when advisory is enabled")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
