// Package config holds the host-side configuration of the data layer.
// Per-world settings (API key, model) live in the world's own config
// record, not here.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the data layer.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Memory    MemoryConfig    `yaml:"memory"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Groups    GroupsConfig    `yaml:"groups"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig says where world files live.
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	WorldPrefix string `yaml:"world_prefix"` // file name prefix, e.g. "world_"
}

// MemoryConfig controls the vector memory pipeline.
type MemoryConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Collection   string        `yaml:"collection"`
	VectorField  string        `yaml:"vector_field"`
	CacheEntries int64         `yaml:"cache_entries"` // embedding cache size, 0 disables
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
	RecallTopK   int           `yaml:"recall_top_k"`
	EmbedRPS     float64       `yaml:"embed_rps"` // embedding calls per second, 0 is unlimited
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "openai", "mock"
	BaseURL   string `yaml:"base_url"` // OpenAI-compatible endpoint
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"` // Environment variable for API key
	Dimension int    `yaml:"dimension"`   // only used by the mock provider
}

// GroupsConfig holds the group fix-up policy applied on character delete.
type GroupsConfig struct {
	DropEmpty bool `yaml:"drop_empty"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:     "worlds",
			WorldPrefix: "world_",
		},
		Memory: MemoryConfig{
			Enabled:      true,
			Collection:   "vectors",
			VectorField:  "vector",
			CacheEntries: 1024,
			EmbedTimeout: 30 * time.Second,
			RecallTopK:   5,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			BaseURL:   "https://api.siliconflow.cn/v1",
			Model:     "Qwen/Qwen3-Embedding-4B",
			APIKeyEnv: "EMBEDDING_API_KEY",
			Dimension: 64,
		},
		Groups: GroupsConfig{
			DropEmpty: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory. It looks for
// 3000world.yaml first, then .3000world/config.yaml.
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "3000world.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".3000world", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// LoadEnv loads a .env file from dir into the process environment if one
// exists. Variables already set are left alone.
func LoadEnv(dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// APIKey returns the embedding API key from the configured environment
// variable.
func (e EmbeddingConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}
