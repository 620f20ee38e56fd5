package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Watermark.Interval != 5 {
		t.Errorf("expected interval 5, got %d", cfg.Watermark.Interval)
	}
	if cfg.Upstream.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("unexpected upstream base URL: %s", cfg.Upstream.BaseURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Watermark.Interval != 5 {
		t.Errorf("expected default interval 5, got %d", cfg.Watermark.Interval)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
version = 1

[server]
addr = ":9090"

[upstream]
base_url = "https://llm.example.com/v1"
timeout_sec = 120

[watermark]
interval = 3
subject_header = "X-User-ID"
default_subject = "proxy"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected addr :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Upstream.BaseURL != "https://llm.example.com/v1" {
		t.Errorf("unexpected base URL: %s", cfg.Upstream.BaseURL)
	}
	if cfg.Watermark.Interval != 3 {
		t.Errorf("expected interval 3, got %d", cfg.Watermark.Interval)
	}
	if cfg.Watermark.SubjectHeader != "X-User-ID" {
		t.Errorf("unexpected subject header: %s", cfg.Watermark.SubjectHeader)
	}
	// Unset fields keep defaults.
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level, got %s", cfg.Logging.Level)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
version: 1
watermark:
  interval: 7
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Watermark.Interval != 7 {
		t.Errorf("expected interval 7, got %d", cfg.Watermark.Interval)
	}
}

func TestValidateRejectsBadInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watermark.Interval = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for interval 0")
	}
	if !strings.Contains(err.Error(), "watermark.interval") {
		t.Errorf("error should name the field: %v", err)
	}

	var errs ValidationErrors
	if !errors.As(err, &errs) {
		t.Errorf("expected ValidationErrors, got %T", err)
	}
}

func TestValidateRejectsBadUpstreamURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Upstream.BaseURL = "not a url"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for bad upstream URL")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "https://override.example.com/v1")
	t.Setenv("UPSTREAM_API_KEY", "sk-test")
	t.Setenv("MARKD_INTERVAL", "9")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Upstream.BaseURL != "https://override.example.com/v1" {
		t.Errorf("UPSTREAM_URL override not applied: %s", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.APIKey != "sk-test" {
		t.Error("UPSTREAM_API_KEY override not applied")
	}
	if cfg.Watermark.Interval != 9 {
		t.Errorf("MARKD_INTERVAL override not applied: %d", cfg.Watermark.Interval)
	}
}

func TestRequireAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.RequireAPIKey(); err == nil {
		t.Fatal("expected error for missing API key")
	}
	cfg.Upstream.APIKey = "sk-test"
	if err := cfg.RequireAPIKey(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoaderReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[watermark]\ninterval = 2\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	l := NewLoader(path)
	defer l.Close()

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Watermark.Interval != 2 {
		t.Fatalf("expected interval 2, got %d", cfg.Watermark.Interval)
	}

	changed := make(chan *Config, 1)
	l.OnChange(func(c *Config) { changed <- c })
	if err := l.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("[watermark]\ninterval = 4\n"), 0600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case c := <-changed:
		if c.Watermark.Interval != 4 {
			t.Errorf("expected reloaded interval 4, got %d", c.Watermark.Interval)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if l.Config().Watermark.Interval != 4 {
		t.Errorf("Config() should reflect reload, got %d", l.Config().Watermark.Interval)
	}
}
