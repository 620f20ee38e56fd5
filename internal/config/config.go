// Package config handles configuration loading, validation, and hot-reload
// for markd.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete proxy configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Server configures the listening HTTP server.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Upstream configures the chat-completions provider requests are
	// forwarded to.
	Upstream UpstreamConfig `toml:"upstream" json:"upstream" yaml:"upstream"`

	// Watermark configures payload construction and injection.
	Watermark WatermarkConfig `toml:"watermark" json:"watermark" yaml:"watermark"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `toml:"addr" json:"addr" yaml:"addr"`

	// ReadTimeoutSec bounds reading of a request including the body.
	ReadTimeoutSec int `toml:"read_timeout_sec" json:"read_timeout_sec" yaml:"read_timeout_sec"`

	// ShutdownTimeoutSec bounds graceful shutdown on SIGINT/SIGTERM.
	ShutdownTimeoutSec int `toml:"shutdown_timeout_sec" json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
}

// UpstreamConfig holds the upstream provider configuration.
type UpstreamConfig struct {
	// BaseURL is the provider API base, e.g. "https://api.openai.com/v1".
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`

	// APIKey is the bearer token sent to the provider. Prefer setting it
	// via the UPSTREAM_API_KEY environment variable.
	APIKey string `toml:"api_key" json:"api_key" yaml:"api_key"`

	// TimeoutSec bounds a single upstream request, including the full
	// lifetime of a streamed response.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// WatermarkConfig holds watermark construction configuration.
type WatermarkConfig struct {
	// Interval is the number of visible characters between marker
	// insertions. Must be >= 1.
	Interval int `toml:"interval" json:"interval" yaml:"interval"`

	// SubjectHeader is the request header carrying the subject identifier.
	SubjectHeader string `toml:"subject_header" json:"subject_header" yaml:"subject_header"`

	// DefaultSubject is used when the subject header is absent.
	DefaultSubject string `toml:"default_subject" json:"default_subject" yaml:"default_subject"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output includes "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of rotated log files.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether rotated logs are gzip compressed.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Server: ServerConfig{
			Addr:               ":8080",
			ReadTimeoutSec:     30,
			ShutdownTimeoutSec: 10,
		},
		Upstream: UpstreamConfig{
			BaseURL:    "https://api.openai.com/v1",
			TimeoutSec: 600,
		},
		Watermark: WatermarkConfig{
			Interval:       5,
			SubjectHeader:  "X-Subject-ID",
			DefaultSubject: "anonymous",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// ApplyEnvOverrides applies environment variable overrides. UPSTREAM_URL
// and UPSTREAM_API_KEY keep their historical names so keys can stay out of
// config files; the rest use the MARKD_ prefix.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MARKD_LISTEN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("UPSTREAM_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("UPSTREAM_API_KEY"); v != "" {
		c.Upstream.APIKey = v
	}
	if v := os.Getenv("MARKD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MARKD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("MARKD_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Watermark.Interval = n
		}
	}
	if v := os.Getenv("MARKD_SUBJECT_HEADER"); v != "" {
		c.Watermark.SubjectHeader = v
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors. Misconfigurations are fatal
// at startup rather than silently defaulted.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	if c.Server.Addr == "" {
		errs = append(errs, ValidationError{Field: "server.addr", Message: "listen address is required"})
	}

	if c.Upstream.BaseURL == "" {
		errs = append(errs, ValidationError{Field: "upstream.base_url", Message: "base URL is required"})
	} else if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "upstream.base_url",
			Message: fmt.Sprintf("invalid URL %q", c.Upstream.BaseURL),
		})
	}
	if c.Upstream.TimeoutSec < 1 {
		errs = append(errs, ValidationError{Field: "upstream.timeout_sec", Message: "timeout must be >= 1"})
	}

	if c.Watermark.Interval < 1 {
		errs = append(errs, ValidationError{
			Field:   "watermark.interval",
			Message: fmt.Sprintf("interval must be >= 1, got %d", c.Watermark.Interval),
		})
	}
	if c.Watermark.DefaultSubject == "" {
		errs = append(errs, ValidationError{Field: "watermark.default_subject", Message: "default subject is required"})
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", c.Logging.Level),
		})
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", c.Logging.Format),
		})
	}
	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.FilePath == "" {
		errs = append(errs, ValidationError{Field: "logging.file_path", Message: "file path required for file output"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// RequireAPIKey returns an error when no upstream API key is configured.
// The proxy refuses to start without one; markverify never needs it.
func (c *Config) RequireAPIKey() error {
	if c.Upstream.APIKey == "" {
		return &ValidationError{Field: "upstream.api_key", Message: "UPSTREAM_API_KEY is not set"}
	}
	return nil
}
