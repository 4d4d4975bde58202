// Package config holds the TOML configuration model for the filterd
// filtering engine. Values are decoded over baked-in defaults; duration
// fields are kept as strings and parsed through Get* accessors.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/migadu/filterd/helpers"
)

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Output string `toml:"output"` // "stderr", "stdout", "syslog" or a file path
	Format string `toml:"format"` // "console" or "json"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// ServerConfig holds global server identity configuration.
type ServerConfig struct {
	Hostname string `toml:"hostname"`
}

// SieveLimitsConfig holds optional runtime limit overrides. Absent values
// mean the engine default baked into the runtime builder; pointers keep
// "not set" distinguishable from an explicit zero.
type SieveLimitsConfig struct {
	Redirects       *int   `toml:"redirects"`        // Max redirect actions per execution
	OutMessages     *int   `toml:"out_messages"`     // Max outbound messages per execution
	CPU             *int   `toml:"cpu"`              // Instruction budget per execution
	NestedIncludes  *int   `toml:"nested_includes"`  // Max include depth
	ReceivedHeaders *int   `toml:"received_headers"` // Max Received headers before loop suspicion
	DuplicateExpiry string `toml:"duplicate_expiry"` // Duplicate-suppression expiry (e.g. "7d")
}

// GetDuplicateExpiry parses the duplicate expiry duration. A nil result
// means the key is absent and the engine default applies.
func (l *SieveLimitsConfig) GetDuplicateExpiry() (*time.Duration, error) {
	if l.DuplicateExpiry == "" {
		return nil, nil
	}
	d, err := helpers.ParseDuration(l.DuplicateExpiry)
	if err != nil {
		return nil, fmt.Errorf("sieve.limits.duplicate_expiry: %v", err)
	}
	return &d, nil
}

// SieveConfig holds the Sieve engine configuration.
type SieveConfig struct {
	Hostname     string            `toml:"hostname"`      // Overrides server.hostname for the engine
	Limits       SieveLimitsConfig `toml:"limits"`        // Optional runtime limit overrides
	Scripts      map[string]string `toml:"scripts"`       // Script id -> source path (or s3://bucket/key)
	Sign         []string          `toml:"sign"`          // Ordered DKIM signer ids for generated mail
	FromAddr     string            `toml:"from_addr"`     // Envelope sender for generated mail
	FromName     string            `toml:"from_name"`     // Display name for generated mail
	ReturnPath   string            `toml:"return_path"`   // Return-Path for generated mail
	UseDirectory string            `toml:"use_directory"` // Named storage backend for stateful extensions
}

// SignerConfig holds a single DKIM signer definition.
type SignerConfig struct {
	Domain           string   `toml:"domain"`
	Selector         string   `toml:"selector"`
	KeyFile          string   `toml:"key_file"`
	Headers          []string `toml:"headers"`          // Headers to sign (default: From, To, Subject, Date, Message-ID)
	Canonicalization string   `toml:"canonicalization"` // "relaxed" (default) or "simple"
	Expiry           string   `toml:"expiry"`           // Signature expiration (optional)
}

// GetExpiry parses the signature expiry duration; zero means no expiration.
func (s *SignerConfig) GetExpiry() (time.Duration, error) {
	if s.Expiry == "" {
		return 0, nil
	}
	return helpers.ParseDuration(s.Expiry)
}

// LookupConfig holds a named lookup list definition.
type LookupConfig struct {
	Type   string   `toml:"type"`   // "static" or "file"
	Values []string `toml:"values"` // Entries for type="static"
	Path   string   `toml:"path"`   // One entry per line for type="file"
}

// DirectoryConfig holds a named storage backend definition.
type DirectoryConfig struct {
	Type string `toml:"type"` // "memory", "postgres" or "sqlite"

	// Postgres
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	TLSMode  bool   `toml:"tls"`

	// SQLite
	Path string `toml:"path"`

	// Memory
	Entries map[string][]string `toml:"entries"`
}

// RelayConfig holds the outbound relay used for redirected messages and
// generated responses.
type RelayConfig struct {
	Addr          string `toml:"addr"`           // host:port of the smarthost
	Hello         string `toml:"hello"`          // HELO name (defaults to the engine hostname)
	MaxAttempts   int    `toml:"max_attempts"`   // Submission attempts before giving up
	RetryInterval string `toml:"retry_interval"` // Initial backoff interval
}

// GetRetryInterval parses the relay retry interval duration.
func (r *RelayConfig) GetRetryInterval() (time.Duration, error) {
	if r.RetryInterval == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(r.RetryInterval)
}

// GetMaxAttempts returns the submission attempt limit.
func (r *RelayConfig) GetMaxAttempts() int {
	if r.MaxAttempts <= 0 {
		return 3
	}
	return r.MaxAttempts
}

// HTTPAPIConfig holds admin HTTP API configuration.
type HTTPAPIConfig struct {
	Start  bool   `toml:"start"`
	Addr   string `toml:"addr"`
	APIKey string `toml:"api_key"`
}

// MetricsConfig holds Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

// S3Config holds S3 access for s3:// script sources.
type S3Config struct {
	Endpoint   string `toml:"endpoint"`
	DisableTLS bool   `toml:"disable_tls"`
	AccessKey  string `toml:"access_key"`
	SecretKey  string `toml:"secret_key"`
	Trace      bool   `toml:"trace"`
}

// Config holds all configuration for the application.
type Config struct {
	Logging     LoggingConfig              `toml:"logging"`
	Server      ServerConfig               `toml:"server"`
	Sieve       SieveConfig                `toml:"sieve"`
	Signers     map[string]SignerConfig    `toml:"signers"`
	Lookups     map[string]LookupConfig    `toml:"lookups"`
	Directories map[string]DirectoryConfig `toml:"directories"`
	Relay       RelayConfig                `toml:"relay"`
	HTTPAPI     HTTPAPIConfig              `toml:"http_api"`
	Metrics     MetricsConfig              `toml:"metrics"`
	S3          *S3Config                  `toml:"s3"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Relay: RelayConfig{
			MaxAttempts:   3,
			RetryInterval: "30s",
		},
		HTTPAPI: HTTPAPIConfig{
			Start: false,
			Addr:  "localhost:8785",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "localhost:9090",
			Path:    "/metrics",
		},
	}
}

// Load decodes the TOML file at path over the application defaults.
func Load(path string) (Config, error) {
	cfg := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("configuration file %q not found: %w", path, err)
		}
		return cfg, fmt.Errorf("parsing configuration file %q: %w", path, err)
	}
	return cfg, nil
}
