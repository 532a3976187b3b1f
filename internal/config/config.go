package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
type Config struct {
	Account     AccountConfig     `yaml:"account"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Sync        SyncConfig        `yaml:"sync"`
	Delete      DeleteConfig      `yaml:"delete"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type AccountConfig struct {
	Username string `yaml:"username"`
}

type CredentialsConfig struct {
	// Bearer token for the bookmarks API. If empty, read from env X_BEARER_TOKEN.
	BearerToken string `yaml:"bearerToken"`
	// CSRF token header value. If empty, read from env X_CSRF_TOKEN.
	CSRFToken string `yaml:"csrfToken"`
}

type SyncConfig struct {
	// Page size for a full sync pass.
	FullBatch int `yaml:"fullBatch"`
	// Smaller page size for delta passes.
	DeltaBatch int `yaml:"deltaBatch"`
	// Hard cap on pages per pass; 0 means no cap.
	MaxPages int `yaml:"maxPages"`
	// Retry policy for fetch calls.
	MaxAttempts   int `yaml:"maxAttempts"`
	BaseBackoffMs int `yaml:"baseBackoffMs"`
}

type DeleteConfig struct {
	// Concurrent deletes per batch.
	BatchSize int `yaml:"batchSize"`
	// Pause between batches; doubled for the next batch after a rate limit.
	BatchDelayMs int `yaml:"batchDelayMs"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
	// Operations slower than this are flagged in result metadata.
	SlowOpMs int `yaml:"slowOpMs"`
	// Maximum tags kept per bookmark.
	MaxTags int `yaml:"maxTags"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type MetricsConfig struct {
	// Listen address for /metrics, e.g. ":9090". Empty disables the server.
	Addr string `yaml:"addr"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Account:     AccountConfig{Username: ""},
		Credentials: CredentialsConfig{},
		Sync: SyncConfig{
			FullBatch:     100,
			DeltaBatch:    20,
			MaxPages:      0,
			MaxAttempts:   5,
			BaseBackoffMs: 500,
		},
		Delete:  DeleteConfig{BatchSize: 5, BatchDelayMs: 1000},
		Storage: StorageConfig{DBPath: "./tidemark.db", SlowOpMs: 250, MaxTags: 20},
		Logging: LoggingConfig{Level: "info", Pretty: false},
		Metrics: MetricsConfig{Addr: ""},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Credentials.BearerToken == "" {
		c.Credentials.BearerToken = os.Getenv("X_BEARER_TOKEN")
	}
	if c.Credentials.CSRFToken == "" {
		c.Credentials.CSRFToken = os.Getenv("X_CSRF_TOKEN")
	}
	if v := os.Getenv("TIDEMARK_DB"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("TIDEMARK_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("TIDEMARK_SLOW_OP_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Storage.SlowOpMs = n
		}
	}
}

// Load reads YAML config from path and applies env overrides.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
