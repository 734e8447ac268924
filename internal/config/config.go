package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.backscroll/config.toml.
type Config struct {
	DefaultWorkspace string `toml:"default_workspace"`
	// SlackToken is the fallback token when SLACK_TOKEN is not set in the
	// environment. Keeping it in config.toml is convenient but less safe.
	SlackToken string `toml:"slack_token"`

	Sync      SyncConfig      `toml:"sync"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Embedding EmbeddingConfig `toml:"embedding"`
}

// SyncConfig carries sync engine tuning.
type SyncConfig struct {
	IntervalSeconds   int  `toml:"interval_seconds"`
	Concurrency       int  `toml:"concurrency"`
	PageSize          int  `toml:"page_size"`
	MaxRetries        int  `toml:"max_retries"`
	RetryBaseMillis   int  `toml:"retry_base_millis"`
	RetryMaxMillis    int  `toml:"retry_max_millis"`
	CooldownThreshold int  `toml:"cooldown_threshold"`
	CooldownMaxCycles int  `toml:"cooldown_max_cycles"`
	ThreadSyncEnabled bool `toml:"thread_sync_enabled"`
	UserLookupEnabled bool `toml:"user_lookup_enabled"`
}

// RateLimitConfig carries per-endpoint-class token bucket budgets.
// History covers conversation history and thread replies; metadata covers
// conversation listing and user lookups.
type RateLimitConfig struct {
	HistoryPerMinute      int `toml:"history_per_minute"`
	HistoryBurst          int `toml:"history_burst"`
	MetadataPerMinute     int `toml:"metadata_per_minute"`
	MetadataBurst         int `toml:"metadata_burst"`
	AcquireTimeoutSeconds int `toml:"acquire_timeout_seconds"`
}

// EmbeddingConfig selects the embedding provider for the indexer.
// Provider "off" disables indexing entirely; search then degrades to
// keyword-only.
type EmbeddingConfig struct {
	Provider             string `toml:"provider"` // off | openai | fake
	Model                string `toml:"model"`
	APIKey               string `toml:"api_key"`
	Dim                  int    `toml:"dim"`
	BatchSize            int    `toml:"batch_size"`
	BackfillIntervalSecs int    `toml:"backfill_interval_seconds"`
}

// Default returns a config with all tuning knobs at their defaults.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			IntervalSeconds:   60,
			Concurrency:       4,
			PageSize:          100,
			MaxRetries:        3,
			RetryBaseMillis:   1000,
			RetryMaxMillis:    60000,
			CooldownThreshold: 3,
			CooldownMaxCycles: 32,
			ThreadSyncEnabled: true,
			UserLookupEnabled: true,
		},
		RateLimit: RateLimitConfig{
			HistoryPerMinute:      50,
			HistoryBurst:          10,
			MetadataPerMinute:     20,
			MetadataBurst:         5,
			AcquireTimeoutSeconds: 120,
		},
		Embedding: EmbeddingConfig{
			Provider:             "off",
			Model:                "text-embedding-3-small",
			Dim:                  1536,
			BatchSize:            50,
			BackfillIntervalSecs: 300,
		},
	}
}

// Load reads config from the given path, applying defaults for anything the
// file does not set. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks tuning values that would break the engine if zeroed.
func (c *Config) Validate() error {
	if c.Sync.IntervalSeconds <= 0 {
		return fmt.Errorf("sync.interval_seconds must be positive, got %d", c.Sync.IntervalSeconds)
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be positive, got %d", c.Sync.Concurrency)
	}
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 1000 {
		return fmt.Errorf("sync.page_size must be in 1..1000, got %d", c.Sync.PageSize)
	}
	if c.RateLimit.HistoryPerMinute <= 0 || c.RateLimit.MetadataPerMinute <= 0 {
		return fmt.Errorf("rate_limit budgets must be positive")
	}
	switch c.Embedding.Provider {
	case "", "off", "openai", "fake":
	default:
		return fmt.Errorf("embedding.provider %q not recognized", c.Embedding.Provider)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadEnv loads a .env file from the current directory if one exists.
// Missing files are fine; real environment variables always win.
func LoadEnv() {
	_ = godotenv.Load()
}

// Token resolves the Slack user token: SLACK_TOKEN env first, then the
// config file entry.
func (c *Config) Token() string {
	if tok := os.Getenv("SLACK_TOKEN"); tok != "" {
		return tok
	}
	return c.SlackToken
}
