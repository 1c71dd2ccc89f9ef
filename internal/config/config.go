// Package config provides configuration management for driveman.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/ini.v1"
)

// Config is the single configuration source for the scheduler core and CLI.
// It is constructed once (defaults, then optionally an INI file) and injected
// into each component; nothing in the core reads configuration globally.
//
// Config file location:
//   - Unix: ~/.config/driveman/config.ini
//   - Windows: %USERPROFILE%\.config\driveman\config.ini
//
// INI format:
//
//	[backend]
//	url = http://localhost:3000
//	request_timeout_ms = 10000
//	upload_timeout_ms = 300000
//
//	[health]
//	base_interval_ms = 30000
//	max_interval_ms = 900000
//
//	[refresh]
//	accounts_interval_ms = 300000
//	reports_interval_ms = 600000
//	sync_status_interval_ms = 300000
//	rate_limit_cooldown_ms = 600000
//
//	[search]
//	debounce_ms = 350
//	page_size = 50
//
//	[upload]
//	max_concurrency = 1
type Config struct {
	Backend BackendConfig
	Health  HealthConfig
	Refresh RefreshConfig
	Search  SearchConfig
	Upload  UploadConfig
}

// BackendConfig holds connection settings for the backend server.
type BackendConfig struct {
	// URL is the backend base URL.
	URL string `ini:"url"`

	// RequestTimeoutMs bounds every metadata call (health, search, refresh).
	// Expiry is treated identically to a transport error.
	RequestTimeoutMs int `ini:"request_timeout_ms"`

	// UploadTimeoutMs bounds a single file upload call. Uploads can be large,
	// so this is separate from the metadata timeout.
	UploadTimeoutMs int `ini:"upload_timeout_ms"`
}

// HealthConfig holds the health monitor backoff bounds.
type HealthConfig struct {
	BaseIntervalMs int `ini:"base_interval_ms"`
	MaxIntervalMs  int `ini:"max_interval_ms"`
}

// RefreshConfig holds the periodic refresh intervals and the shared
// rate-limit cooldown applied when the backend reports throttling.
type RefreshConfig struct {
	AccountsIntervalMs   int `ini:"accounts_interval_ms"`
	ReportsIntervalMs    int `ini:"reports_interval_ms"`
	SyncStatusIntervalMs int `ini:"sync_status_interval_ms"`
	RateLimitCooldownMs  int `ini:"rate_limit_cooldown_ms"`
}

// SearchConfig holds search input handling settings.
type SearchConfig struct {
	DebounceMs int `ini:"debounce_ms"`
	PageSize   int `ini:"page_size"`
}

// UploadConfig holds upload queue settings.
type UploadConfig struct {
	// MaxConcurrency is the number of uploads allowed in flight at once.
	// 1 means strictly sequential.
	MaxConcurrency int `ini:"max_concurrency"`
}

// DefaultConfig returns a config populated with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:              "http://localhost:3000",
			RequestTimeoutMs: 10_000,
			UploadTimeoutMs:  300_000,
		},
		Health: HealthConfig{
			BaseIntervalMs: 30_000,
			MaxIntervalMs:  900_000,
		},
		Refresh: RefreshConfig{
			AccountsIntervalMs:   300_000,
			ReportsIntervalMs:    600_000,
			SyncStatusIntervalMs: 300_000,
			RateLimitCooldownMs:  600_000,
		},
		Search: SearchConfig{
			DebounceMs: 350,
			PageSize:   50,
		},
		Upload: UploadConfig{
			MaxConcurrency: 1,
		},
	}
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", "driveman", "config.ini")
}

// Load reads configuration from an INI file, applying defaults for any
// missing keys. A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if err := file.Section("backend").MapTo(&cfg.Backend); err != nil {
		return nil, fmt.Errorf("failed to parse [backend] section: %w", err)
	}
	if err := file.Section("health").MapTo(&cfg.Health); err != nil {
		return nil, fmt.Errorf("failed to parse [health] section: %w", err)
	}
	if err := file.Section("refresh").MapTo(&cfg.Refresh); err != nil {
		return nil, fmt.Errorf("failed to parse [refresh] section: %w", err)
	}
	if err := file.Section("search").MapTo(&cfg.Search); err != nil {
		return nil, fmt.Errorf("failed to parse [search] section: %w", err)
	}
	if err := file.Section("upload").MapTo(&cfg.Upload); err != nil {
		return nil, fmt.Errorf("failed to parse [upload] section: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend url must not be empty")
	}
	if c.Backend.RequestTimeoutMs <= 0 {
		return fmt.Errorf("request_timeout_ms must be positive, got %d", c.Backend.RequestTimeoutMs)
	}
	if c.Health.BaseIntervalMs <= 0 {
		return fmt.Errorf("health base_interval_ms must be positive, got %d", c.Health.BaseIntervalMs)
	}
	if c.Health.MaxIntervalMs < c.Health.BaseIntervalMs {
		return fmt.Errorf("health max_interval_ms (%d) must be >= base_interval_ms (%d)",
			c.Health.MaxIntervalMs, c.Health.BaseIntervalMs)
	}
	if c.Refresh.RateLimitCooldownMs <= 0 {
		return fmt.Errorf("rate_limit_cooldown_ms must be positive, got %d", c.Refresh.RateLimitCooldownMs)
	}
	if c.Upload.MaxConcurrency < 1 {
		return fmt.Errorf("upload max_concurrency must be >= 1, got %d", c.Upload.MaxConcurrency)
	}
	return nil
}

// RequestTimeout returns the metadata call timeout as a duration.
func (c BackendConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// UploadTimeout returns the upload call timeout as a duration.
func (c BackendConfig) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutMs) * time.Millisecond
}

// BaseInterval returns the health check base interval as a duration.
func (c HealthConfig) BaseInterval() time.Duration {
	return time.Duration(c.BaseIntervalMs) * time.Millisecond
}

// MaxInterval returns the health check interval cap as a duration.
func (c HealthConfig) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalMs) * time.Millisecond
}

// AccountsInterval returns the accounts refresh interval as a duration.
func (c RefreshConfig) AccountsInterval() time.Duration {
	return time.Duration(c.AccountsIntervalMs) * time.Millisecond
}

// ReportsInterval returns the reports refresh interval as a duration.
func (c RefreshConfig) ReportsInterval() time.Duration {
	return time.Duration(c.ReportsIntervalMs) * time.Millisecond
}

// SyncStatusInterval returns the sync status refresh interval as a duration.
func (c RefreshConfig) SyncStatusInterval() time.Duration {
	return time.Duration(c.SyncStatusIntervalMs) * time.Millisecond
}

// RateLimitCooldown returns the shared rate-limit cooldown as a duration.
func (c RefreshConfig) RateLimitCooldown() time.Duration {
	return time.Duration(c.RateLimitCooldownMs) * time.Millisecond
}

// Debounce returns the search debounce window as a duration.
func (c SearchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}
