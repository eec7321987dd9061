// Package config loads jive configuration from .jivedev/config.yaml with
// JIVE_* environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultMaxParallel           = 3
	DefaultSessionTimeoutMinutes = 60
	DefaultStoreOpTimeoutSeconds = 30
	DefaultStoreMaxRetries       = 3
	DefaultStoreRetryBase        = time.Second
	DefaultEmbeddingModel        = "local-hash-384"
	DefaultOllamaEndpoint        = "http://localhost:11434"
)

// Config holds every recognized option. Zero values are replaced by
// defaults in Load and in ApplyDefaults.
type Config struct {
	// DataPath is the filesystem root for the embedded store.
	DataPath string `yaml:"data_path"`
	// TasksRoot is where work-item files live (sync engine default root).
	TasksRoot string `yaml:"tasks_root"`
	// EmbeddingModel names the embedding function; determines dimension D.
	EmbeddingModel string `yaml:"embedding_model"`
	// NormalizeEmbeddings L2-normalizes vectors before insert.
	NormalizeEmbeddings bool `yaml:"normalize_embeddings"`
	// EnableFTS toggles the full-text index; when false keyword search
	// uses the substring fallback.
	EnableFTS bool `yaml:"enable_fts"`
	// MaxParallel bounds executor concurrency.
	MaxParallel int `yaml:"max_parallel"`
	// SessionTimeoutMinutes is the default execution session timeout.
	SessionTimeoutMinutes int `yaml:"session_timeout_minutes"`
	// StoreOpTimeoutSeconds is the per-operation store timeout.
	StoreOpTimeoutSeconds int `yaml:"store_op_timeout_seconds"`
	// StoreMaxRetries and StoreRetryBase define the write retry schedule.
	StoreMaxRetries int           `yaml:"store_max_retries"`
	StoreRetryBase  time.Duration `yaml:"store_retry_base"`
	// OllamaEndpoint is used when EmbeddingModel selects the ollama provider.
	OllamaEndpoint string `yaml:"ollama_endpoint"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		DataPath:            filepath.Join(".jivedev", "data"),
		TasksRoot:           filepath.Join(".jivedev", "tasks"),
		EnableFTS:           true,
		NormalizeEmbeddings: true,
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with defaults. Safe to call repeatedly.
func (c *Config) ApplyDefaults() {
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = DefaultEmbeddingModel
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = DefaultMaxParallel
	}
	if c.SessionTimeoutMinutes <= 0 {
		c.SessionTimeoutMinutes = DefaultSessionTimeoutMinutes
	}
	if c.StoreOpTimeoutSeconds <= 0 {
		c.StoreOpTimeoutSeconds = DefaultStoreOpTimeoutSeconds
	}
	if c.StoreMaxRetries <= 0 {
		c.StoreMaxRetries = DefaultStoreMaxRetries
	}
	if c.StoreRetryBase <= 0 {
		c.StoreRetryBase = DefaultStoreRetryBase
	}
	if c.OllamaEndpoint == "" {
		c.OllamaEndpoint = DefaultOllamaEndpoint
	}
}

// SessionTimeout returns the session timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}

// StoreOpTimeout returns the per-op store timeout as a duration.
func (c *Config) StoreOpTimeout() time.Duration {
	return time.Duration(c.StoreOpTimeoutSeconds) * time.Second
}

// Load reads the config file at path, applies JIVE_* env overrides and
// defaults. A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	base := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("JIVE")
	v.AutomaticEnv()

	// Register every key with its default so env overrides are visible to
	// Unmarshal even when the file is absent.
	v.SetDefault("data_path", base.DataPath)
	v.SetDefault("tasks_root", base.TasksRoot)
	v.SetDefault("embedding_model", base.EmbeddingModel)
	v.SetDefault("normalize_embeddings", base.NormalizeEmbeddings)
	v.SetDefault("enable_fts", base.EnableFTS)
	v.SetDefault("max_parallel", base.MaxParallel)
	v.SetDefault("session_timeout_minutes", base.SessionTimeoutMinutes)
	v.SetDefault("store_op_timeout_seconds", base.StoreOpTimeoutSeconds)
	v.SetDefault("store_max_retries", base.StoreMaxRetries)
	v.SetDefault("store_retry_base", base.StoreRetryBase)
	v.SetDefault("ollama_endpoint", base.OllamaEndpoint)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, missing := err.(viper.ConfigFileNotFoundError); !missing {
				// Distinguish absent files (fine) from unreadable ones.
				if _, statErr := os.Stat(path); statErr == nil {
					return nil, fmt.Errorf("parse config %s: %w", path, err)
				}
			}
		}
	}

	cfg := &Config{}
	decode := func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}
	if err := v.Unmarshal(cfg, decode); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}
