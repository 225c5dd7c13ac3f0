package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/cache"
	"github.com/hyperjump/kensaku/internal/chunkfile"
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/external"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/keyword"
	"github.com/hyperjump/kensaku/internal/retrieval"
	"github.com/hyperjump/kensaku/internal/search"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vector"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// Components holds initialized services.
type Components struct {
	Config       *config.Config
	Logger       *zap.Logger
	Storage      storage.Storage
	Embedder     embedding.Embedder
	Cache        *cache.IndexCache
	External     indexer.ChunkSink
	KeywordIndex keyword.KeywordIndex
	Indexer      *indexer.Indexer
	Engine       *search.Engine
	Splitter     *chunkfile.Splitter

	closers []func() error
}

// Close releases every component in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Logger.Warn("close failed", zap.Error(err))
		}
	}
	c.closers = nil
	_ = c.Logger.Sync()
}

// externalStore is what both external store flavours provide.
type externalStore interface {
	indexer.ChunkSink
	retrieval.ExternalStore
}

// newLogger builds the process logger; debug on the command line or in the config
// switches to the development encoder.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := utils.NewLogger(cfg.Debug || debugFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// initializeComponents opens storage and wires the indexer and engine from cfg.
func initializeComponents(cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	topology, err := vector.ParseTopology(cfg.Retrieval.IndexType)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store
	c.closers = append(c.closers, store.Close)

	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder
	c.closers = append(c.closers, embedder.Close)

	c.Cache = cache.New(cfg.Storage.CacheDir, cache.WithLogger(logger))

	var ext externalStore
	switch cfg.External.Provider {
	case config.ExternalSQLite:
		s, err := external.NewSQLiteStore(cfg.Storage.ExternalStorePath, embedder, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize external store: %w", err)
		}
		c.closers = append(c.closers, s.Close)
		ext = s
	case config.ExternalHTTP:
		s, err := external.NewHTTPStore(cfg.External.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize external store: %w", err)
		}
		ext = s
	}

	kw, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = kw
	c.closers = append(c.closers, kw.Close)

	sinks := []indexer.ChunkSink{kw}
	if ext != nil {
		c.External = ext
		sinks = append(sinks, ext)
	}
	c.Indexer = indexer.NewIndexer(store, embedder, c.Cache,
		indexer.WithLogger(logger),
		indexer.WithTopology(topology),
		indexer.WithSinks(sinks...),
	)

	engineOpts := []search.EngineOption{
		search.WithKeyword(kw),
		search.WithConfig(cfg.Retrieval),
		search.WithLogger(logger),
	}
	if ext != nil {
		engineOpts = append(engineOpts, search.WithExternal(ext))
	}
	c.Engine = search.NewEngine(c.Indexer, embedder, engineOpts...)
	c.Splitter = chunkfile.NewSplitter(cfg.Chunking.Size, cfg.Chunking.Overlap)

	logger.Debug("components initialized",
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("external_provider", cfg.External.Provider),
		zap.String("index_type", cfg.Retrieval.IndexType),
	)
	return c, nil
}

// openComponents is the common preamble of every local command.
func openComponents() (*Components, string, error) {
	cfg, path, err := loadValidConfig()
	if err != nil {
		return nil, "", err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, "", err
	}
	c, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, "", err
	}
	return c, path, nil
}
