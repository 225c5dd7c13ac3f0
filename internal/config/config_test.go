package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return dir, path
}

func TestLoad(t *testing.T) {
	_, path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Storage.DatabasePath)
	assert.False(t, cfg.Debug, "debug defaults to false when unset")
}

func TestLoad_debugTrue(t *testing.T) {
	_, path := writeConfig(t, `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "test.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir, path := writeConfig(t, `
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "./data/db/documents.db"
watch:
  directories: ["./dev/sample"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "db", "documents.db"), cfg.Storage.DatabasePath)
	require.Len(t, cfg.Watch.Directories, 1)
	assert.Equal(t, filepath.Join(dir, "dev", "sample"), cfg.Watch.Directories[0])
}

func TestLoad_embeddingAndRetrieval(t *testing.T) {
	_, path := writeConfig(t, `
embedding:
  provider: openai
  model: text-embedding-3-large
  batch_size: 50
  requests_per_second: 2.5
external:
  provider: http
  url: http://remote:8080
retrieval:
  default_k: 8
  mode: keyword_hybrid
  index_type: hnsw
watch:
  debounce: 250ms
`)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedding.Model)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey, "api key comes from OPENAI_API_KEY")
	assert.Equal(t, 50, cfg.Embedding.BatchSize)
	assert.Equal(t, 2.5, cfg.Embedding.RequestsPerSecond)
	assert.Equal(t, ExternalHTTP, cfg.External.Provider)
	assert.Equal(t, "http://remote:8080", cfg.External.URL)
	assert.Equal(t, 8, cfg.Retrieval.DefaultK)
	assert.Equal(t, 100, cfg.Retrieval.MaxK)
	assert.Equal(t, "keyword_hybrid", cfg.Retrieval.Mode)
	assert.Equal(t, "hnsw", cfg.Retrieval.IndexType)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	assert.NoError(t, cfg.Validate())
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mock", cfg.Embedding.Provider)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.Equal(t, ExternalSQLite, cfg.External.Provider)
	assert.Equal(t, 4, cfg.Retrieval.DefaultK)
	assert.Equal(t, 100, cfg.Retrieval.MaxK)
	assert.Equal(t, "hybrid", cfg.Retrieval.Mode)
	assert.Equal(t, "auto", cfg.Retrieval.IndexType)
	assert.Equal(t, 0.6, cfg.Retrieval.SelfWeight)
	assert.Equal(t, 0.4, cfg.Retrieval.ExternalWeight)
	assert.False(t, cfg.Retrieval.FallbackExternal)
	assert.Equal(t, 2000, cfg.Chunking.Size)
	assert.Equal(t, 500, cfg.Chunking.Overlap)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	assert.NoError(t, cfg.Validate())
}

func TestApplyDefaults_keepsExplicitWeights(t *testing.T) {
	cfg := &Config{Retrieval: RetrievalConfig{SelfWeight: 1}}
	ApplyDefaults(cfg)
	assert.Equal(t, 1.0, cfg.Retrieval.SelfWeight)
	assert.Zero(t, cfg.Retrieval.ExternalWeight)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "word2vec" }},
		{"onnx without model path", func(c *Config) { c.Embedding.Provider = "onnx"; c.Embedding.ModelPath = "" }},
		{"unknown external provider", func(c *Config) { c.External.Provider = "chroma" }},
		{"http external without url", func(c *Config) { c.External.Provider = ExternalHTTP }},
		{"unknown mode", func(c *Config) { c.Retrieval.Mode = "faiss_hybrid" }},
		{"unknown index type", func(c *Config) { c.Retrieval.IndexType = "lsh" }},
		{"negative weight", func(c *Config) { c.Retrieval.SelfWeight = -0.1 }},
		{"max_k below default_k", func(c *Config) { c.Retrieval.MaxK = 2 }},
		{"overlap not below size", func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }},
		{"hybrid without external store", func(c *Config) { c.External.Provider = ExternalNone }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_SelfOnlyWithoutExternal(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.External.Provider = ExternalNone
	cfg.Retrieval.Mode = "self_only"
	assert.NoError(t, cfg.Validate())
}

func TestServerConfig_Addr(t *testing.T) {
	s := ServerConfig{Host: "0.0.0.0", Port: 9000}
	assert.Equal(t, "0.0.0.0:9000", s.Addr())
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, loaded.Server.Port)
	assert.Equal(t, "/tmp/db", loaded.Storage.DatabasePath)
}
