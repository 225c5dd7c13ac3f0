package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kensaku/data/db/chunks.db"
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = "/usr/local/var/kensaku/data/cache"
	}
	if cfg.Storage.ExternalStorePath == "" {
		cfg.Storage.ExternalStorePath = "/usr/local/var/kensaku/data/db/external.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/kensaku/data/indices/bleve"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Model == "" && (cfg.Embedding.Provider == "openai" || cfg.Embedding.Provider == "compatible") {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 && (cfg.Embedding.Provider == "mock" || cfg.Embedding.Provider == "onnx") {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 100
	}
	if cfg.Embedding.Workers == 0 {
		cfg.Embedding.Workers = 4
	}
	if cfg.External.Provider == "" {
		cfg.External.Provider = ExternalSQLite
	}
	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 4
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = 100
	}
	if cfg.Retrieval.Mode == "" {
		cfg.Retrieval.Mode = "hybrid"
	}
	if cfg.Retrieval.IndexType == "" {
		cfg.Retrieval.IndexType = "auto"
	}
	if cfg.Retrieval.SelfWeight == 0 && cfg.Retrieval.ExternalWeight == 0 {
		cfg.Retrieval.SelfWeight = 0.6
		cfg.Retrieval.ExternalWeight = 0.4
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 2000
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 500
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
}
