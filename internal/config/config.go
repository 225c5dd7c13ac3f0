// Package config provides configuration loading and structs for the kensaku server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	External  ExternalConfig  `yaml:"external"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds paths for the chunk database, index cache and side indices.
type StorageConfig struct {
	DatabasePath      string `yaml:"database_path"`
	CacheDir          string `yaml:"cache_dir"`
	ExternalStorePath string `yaml:"external_store_path"`
	KeywordIndexPath  string `yaml:"keyword_index_path"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	ModelPath         string  `yaml:"model_path"`
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"-"`
	Dimensions        int     `yaml:"dimensions"`
	MaxTokens         int     `yaml:"max_tokens"`
	CacheSize         int     `yaml:"cache_size"`
	BatchSize         int     `yaml:"batch_size"`
	Workers           int     `yaml:"workers"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ExternalConfig selects the external dense store.
type ExternalConfig struct {
	Provider string `yaml:"provider"`
	URL      string `yaml:"url"`
}

// RetrievalConfig holds query defaults and index selection.
type RetrievalConfig struct {
	DefaultK         int     `yaml:"default_k"`
	MaxK             int     `yaml:"max_k"`
	Mode             string  `yaml:"mode"`
	IndexType        string  `yaml:"index_type"`
	SelfWeight       float64 `yaml:"self_weight"`
	ExternalWeight   float64 `yaml:"external_weight"`
	FallbackExternal bool    `yaml:"fallback_external"`
}

// ChunkingConfig sizes the windows used when importing documents. Both values
// are in characters.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// WatchConfig holds the JSONL drop directories.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Debounce    time.Duration `yaml:"debounce"`
}

// External store providers.
const (
	ExternalSQLite = "sqlite"
	ExternalHTTP   = "http"
	ExternalNone   = "none"
)

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.CacheDir = expandPath(cfg.Storage.CacheDir, configDir)
	cfg.Storage.ExternalStorePath = expandPath(cfg.Storage.ExternalStorePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
	cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports configuration values that no component accepts.
func (c *Config) Validate() error {
	var errs []error
	switch c.Embedding.Provider {
	case "mock", "onnx", "openai", "compatible":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "onnx" && c.Embedding.ModelPath == "" {
		errs = append(errs, errors.New("embedding.model_path: required for onnx provider"))
	}
	switch c.External.Provider {
	case ExternalSQLite, ExternalNone:
	case ExternalHTTP:
		if c.External.URL == "" {
			errs = append(errs, errors.New("external.url: required for http provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("external.provider: unknown provider %q", c.External.Provider))
	}
	switch c.Retrieval.Mode {
	case "hybrid", "self_only", "external_only", "keyword_hybrid":
	default:
		errs = append(errs, fmt.Errorf("retrieval.mode: unknown mode %q", c.Retrieval.Mode))
	}
	if c.External.Provider == ExternalNone && c.Retrieval.Mode != "self_only" {
		errs = append(errs, fmt.Errorf("retrieval.mode: %q needs an external store", c.Retrieval.Mode))
	}
	switch strings.ToLower(c.Retrieval.IndexType) {
	case "auto", "exact", "flat", "partitioned", "ivf", "graph", "hnsw":
	default:
		errs = append(errs, fmt.Errorf("retrieval.index_type: unknown index type %q", c.Retrieval.IndexType))
	}
	if c.Retrieval.SelfWeight < 0 || c.Retrieval.ExternalWeight < 0 {
		errs = append(errs, errors.New("retrieval: weights must be non-negative"))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, errors.New("chunking.overlap: must be non-negative and below chunking.size"))
	}
	if c.Retrieval.MaxK < c.Retrieval.DefaultK {
		errs = append(errs, errors.New("retrieval.max_k: must be at least default_k"))
	}
	return errors.Join(errs...)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
