package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	if cfg.Health.BaseInterval() != 30*time.Second {
		t.Errorf("expected base interval 30s, got %v", cfg.Health.BaseInterval())
	}
	if cfg.Health.MaxInterval() != 15*time.Minute {
		t.Errorf("expected max interval 15m, got %v", cfg.Health.MaxInterval())
	}
	if cfg.Refresh.RateLimitCooldown() != 10*time.Minute {
		t.Errorf("expected cooldown 10m, got %v", cfg.Refresh.RateLimitCooldown())
	}
	if cfg.Search.Debounce() != 350*time.Millisecond {
		t.Errorf("expected debounce 350ms, got %v", cfg.Search.Debounce())
	}
	if cfg.Upload.MaxConcurrency != 1 {
		t.Errorf("expected sequential uploads by default, got %d", cfg.Upload.MaxConcurrency)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.ini"))
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if cfg.Backend.URL != DefaultConfig().Backend.URL {
		t.Errorf("expected default backend url, got %s", cfg.Backend.URL)
	}
}

func TestLoadOverridesAndKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[backend]
url = https://driveman.example.com
request_timeout_ms = 5000

[health]
base_interval_ms = 10000
max_interval_ms = 120000

[search]
debounce_ms = 200
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend.URL != "https://driveman.example.com" {
		t.Errorf("url not overridden: %s", cfg.Backend.URL)
	}
	if cfg.Backend.RequestTimeout() != 5*time.Second {
		t.Errorf("request timeout not overridden: %v", cfg.Backend.RequestTimeout())
	}
	if cfg.Health.BaseInterval() != 10*time.Second {
		t.Errorf("base interval not overridden: %v", cfg.Health.BaseInterval())
	}
	if cfg.Search.Debounce() != 200*time.Millisecond {
		t.Errorf("debounce not overridden: %v", cfg.Search.Debounce())
	}

	// Untouched keys keep their defaults.
	if cfg.Backend.UploadTimeoutMs != 300_000 {
		t.Errorf("upload timeout lost its default: %d", cfg.Backend.UploadTimeoutMs)
	}
	if cfg.Refresh.AccountsIntervalMs != 300_000 {
		t.Errorf("accounts interval lost its default: %d", cfg.Refresh.AccountsIntervalMs)
	}
	if cfg.Upload.MaxConcurrency != 1 {
		t.Errorf("max concurrency lost its default: %d", cfg.Upload.MaxConcurrency)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{
			name:    "max below base",
			content: "[health]\nbase_interval_ms = 60000\nmax_interval_ms = 30000\n",
			errPart: "max_interval_ms",
		},
		{
			name:    "zero timeout",
			content: "[backend]\nrequest_timeout_ms = 0\n",
			errPart: "request_timeout_ms",
		},
		{
			name:    "empty url",
			content: "[backend]\nurl =\n",
			errPart: "url",
		},
		{
			name:    "zero concurrency",
			content: "[upload]\nmax_concurrency = 0\n",
			errPart: "max_concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("error %q does not mention %q", err, tt.errPart)
			}
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "[backend\nurl = broken")
	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error for a malformed file")
	}
}
