// Package indexer owns the per-collection vector indexes: it builds them from the
// chunk store, adopts cached builds, and keeps the chunk store, side indexes and
// cache consistent as collections change.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/kensaku/internal/cache"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrEmptyCollection is returned when a collection has no chunks to index.
var ErrEmptyCollection = errors.New("nothing to search")

// IndexCache persists built indexes between runs.
type IndexCache interface {
	Load(collectionID string) *cache.Entry
	Validate(entry *cache.Entry, current []models.Chunk) bool
	Save(collectionID string, idx vector.Index, vectors [][]float32, chunks []models.Chunk) error
	Invalidate(collectionID string) error
	Usage(collectionID string) (int64, error)
	Dir(collectionID string) string
}

// ChunkSink receives every chunk added to a collection. The external store and the
// keyword index are sinks.
type ChunkSink interface {
	IndexChunks(ctx context.Context, collectionID string, chunks []models.Chunk) error
	DeleteCollection(ctx context.Context, collectionID string) error
}

// Indexer builds and serves per-collection indexes.
type Indexer struct {
	store    storage.Storage
	embedder embedding.Embedder
	cache    IndexCache
	registry *Registry
	group    singleflight.Group
	locks    sync.Map // collection id -> *collectionLocks
	topology vector.Topology
	sinks    []ChunkSink
	logger   *zap.Logger
}

// collectionLocks serializes work on one collection. build is held for a whole
// build so at most one embedding pass runs per collection. state guards the
// generation check, cache write and registration against Invalidate.
type collectionLocks struct {
	build sync.Mutex
	state sync.Mutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger. If nil, a no-op logger is used.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithTopology forces every build to use t. The empty topology selects by size.
func WithTopology(t vector.Topology) IndexerOption {
	return func(idx *Indexer) { idx.topology = t }
}

// WithSinks registers sinks that mirror chunk additions and deletions.
func WithSinks(sinks ...ChunkSink) IndexerOption {
	return func(idx *Indexer) { idx.sinks = append(idx.sinks, sinks...) }
}

// NewIndexer creates an indexer over the chunk store.
func NewIndexer(store storage.Storage, embedder embedding.Embedder, c IndexCache, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:    store,
		embedder: embedder,
		cache:    c,
		registry: NewRegistry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (idx *Indexer) locksFor(collectionID string) *collectionLocks {
	l, _ := idx.locks.LoadOrStore(collectionID, &collectionLocks{})
	return l.(*collectionLocks)
}

// Registry returns the indexer's handle registry.
func (idx *Indexer) Registry() *Registry {
	return idx.registry
}

// EnsureReady returns the collection's index, building or adopting it on first use.
// Concurrent callers for the same collection share one build. If ctx is cancelled
// the caller stops waiting but the build continues for the others.
func (idx *Indexer) EnsureReady(ctx context.Context, collectionID string) (*Handle, error) {
	if h := idx.registry.Get(collectionID); h != nil {
		return h, nil
	}
	gen := idx.registry.Generation(collectionID)
	key := fmt.Sprintf("%s#%d", collectionID, gen)
	buildCtx := context.WithoutCancel(ctx)
	ch := idx.group.DoChan(key, func() (interface{}, error) {
		return idx.build(buildCtx, collectionID, gen)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	}
}

func (idx *Indexer) build(ctx context.Context, collectionID string, gen uint64) (*Handle, error) {
	locks := idx.locksFor(collectionID)
	locks.build.Lock()
	defer locks.build.Unlock()

	if h := idx.registry.Get(collectionID); h != nil {
		return h, nil
	}
	// A build that waited behind an older one works against the chunks as they are
	// now, so it takes the generation current before it lists them.
	gen = idx.registry.Generation(collectionID)
	log := idx.logger.With(zap.String("collection", collectionID))

	chunks, err := idx.store.ListChunks(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: collection %q has no chunks", ErrEmptyCollection, collectionID)
	}

	if h := idx.adopt(collectionID, chunks); h != nil {
		locks.state.Lock()
		registered := idx.registry.SwapIfCurrent(h, gen)
		locks.state.Unlock()
		if !registered {
			log.Debug("collection changed during cache load")
		}
		log.Info("adopted cached index",
			zap.String("topology", string(h.Topology)),
			zap.Int("vectors", h.Index.Len()))
		return h, nil
	}

	start := time.Now()
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, embedding.Wrap(err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", vector.ErrBuild, len(vectors), len(chunks))
	}
	embedTime := time.Since(start)

	index, err := vector.BuildIndex(vectors, idx.topology)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		CollectionID: collectionID,
		Index:        index,
		Chunks:       chunks,
		Topology:     index.Topology(),
		Dimensions:   index.Dimensions(),
		BuiltAt:      time.Now().UTC(),
	}

	// Invalidate takes state too, so it cannot delete the cache between the
	// generation check and the write.
	locks.state.Lock()
	current := idx.registry.Generation(collectionID) == gen
	if current {
		if err := idx.cache.Save(collectionID, index, vectors, chunks); err != nil {
			log.Warn("failed to persist index cache", zap.Error(err))
		}
		idx.registry.SwapIfCurrent(h, gen)
	}
	locks.state.Unlock()
	if !current {
		log.Debug("collection changed during build; handle not registered")
	}
	log.Info("built index",
		zap.String("topology", string(h.Topology)),
		zap.Int("vectors", index.Len()),
		zap.Int("dimensions", h.Dimensions),
		zap.Duration("embed_time", embedTime),
		zap.Duration("total_time", time.Since(start)))
	return h, nil
}

// adopt returns a handle over the cached index when it matches the current chunks
// and the forced topology, if any.
func (idx *Indexer) adopt(collectionID string, chunks []models.Chunk) *Handle {
	entry := idx.cache.Load(collectionID)
	if entry == nil || !idx.cache.Validate(entry, chunks) {
		return nil
	}
	if idx.topology != "" && entry.Topology != idx.topology {
		return nil
	}
	return &Handle{
		CollectionID: collectionID,
		Index:        entry.Index,
		Chunks:       entry.Chunks,
		Topology:     entry.Topology,
		Dimensions:   entry.Index.Dimensions(),
		BuiltAt:      entry.CreatedAt,
		FromCache:    true,
	}
}

// Rebuild discards the collection's cache and registered index and builds a new one.
func (idx *Indexer) Rebuild(ctx context.Context, collectionID string) (*Handle, error) {
	if err := idx.Invalidate(collectionID); err != nil {
		return nil, err
	}
	return idx.EnsureReady(ctx, collectionID)
}

// Invalidate drops the registered index and deletes the cache so the next
// EnsureReady rebuilds.
func (idx *Indexer) Invalidate(collectionID string) error {
	locks := idx.locksFor(collectionID)
	locks.state.Lock()
	defer locks.state.Unlock()

	idx.registry.Delete(collectionID)
	if err := idx.cache.Invalidate(collectionID); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// Stats reports the state of the collection's index without building it.
func (idx *Indexer) Stats(ctx context.Context, collectionID string) (*models.IndexStats, error) {
	count, err := idx.store.CountChunks(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	stats := &models.IndexStats{
		Status:       models.StatusNotBuilt,
		CollectionID: collectionID,
		ChunkCount:   count,
		CacheDir:     idx.cache.Dir(collectionID),
	}
	if bytes, err := idx.cache.Usage(collectionID); err == nil {
		stats.CacheBytes = bytes
	}

	if h := idx.registry.Get(collectionID); h != nil {
		stats.Status = models.StatusReady
		stats.Topology = string(h.Topology)
		stats.TotalVectors = h.Index.Len()
		stats.EmbeddingDim = h.Dimensions
		stats.FromCache = h.FromCache
		stats.BuiltAt = h.BuiltAt
		return stats, nil
	}
	if entry := idx.cache.Load(collectionID); entry != nil {
		stats.Status = models.StatusCached
		stats.Topology = string(entry.Topology)
		stats.TotalVectors = entry.Index.Len()
		stats.EmbeddingDim = entry.Index.Dimensions()
		stats.FromCache = true
		stats.BuiltAt = entry.CreatedAt
	}
	return stats, nil
}

// AddChunks stores chunks, forwards them to every sink and invalidates the
// collection's index.
func (idx *Indexer) AddChunks(ctx context.Context, collectionID string, chunks []models.Chunk) error {
	if err := validateChunks(collectionID, chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := idx.store.AddChunks(ctx, collectionID, chunks); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	// The store already holds the chunks; the index must not outlive them even if a sink fails.
	if err := idx.Invalidate(collectionID); err != nil {
		return err
	}
	for _, s := range idx.sinks {
		if err := s.IndexChunks(ctx, collectionID, chunks); err != nil {
			return fmt.Errorf("failed to index chunks: %w", err)
		}
	}
	idx.logger.Debug("chunks added",
		zap.String("collection", collectionID),
		zap.Int("count", len(chunks)))
	return nil
}

func validateChunks(collectionID string, chunks []models.Chunk) error {
	if collectionID == "" {
		return fmt.Errorf("%w: collection id is required", models.ErrInvalidQuery)
	}
	for i, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("%w: chunk %d has no id", models.ErrInvalidQuery, i)
		}
	}
	return nil
}

// ReplaceChunks swaps the collection's chunks for chunks. The chunk store swap is
// a single transaction, so retrievals see the old index until the swap commits
// and the new chunks afterwards, never an empty collection. Sinks are cleared and
// refilled after the swap; if one fails the store already holds the new chunks
// and the error is returned so the caller can retry.
func (idx *Indexer) ReplaceChunks(ctx context.Context, collectionID string, chunks []models.Chunk) error {
	if err := validateChunks(collectionID, chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return idx.DeleteCollection(ctx, collectionID)
	}
	if err := idx.store.ReplaceChunks(ctx, collectionID, chunks); err != nil {
		return fmt.Errorf("failed to replace chunks: %w", err)
	}
	if err := idx.Invalidate(collectionID); err != nil {
		return err
	}
	for _, s := range idx.sinks {
		if err := s.DeleteCollection(ctx, collectionID); err != nil {
			return fmt.Errorf("failed to clear collection in index: %w", err)
		}
		if err := s.IndexChunks(ctx, collectionID, chunks); err != nil {
			return fmt.Errorf("failed to index chunks: %w", err)
		}
	}
	idx.logger.Debug("chunks replaced",
		zap.String("collection", collectionID),
		zap.Int("count", len(chunks)))
	return nil
}

// DeleteCollection removes the collection from the chunk store, every sink and the cache.
func (idx *Indexer) DeleteCollection(ctx context.Context, collectionID string) error {
	if err := idx.store.DeleteCollection(ctx, collectionID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := idx.Invalidate(collectionID); err != nil {
		return err
	}
	for _, s := range idx.sinks {
		if err := s.DeleteCollection(ctx, collectionID); err != nil {
			return fmt.Errorf("failed to delete collection from index: %w", err)
		}
	}
	idx.logger.Debug("collection deleted", zap.String("collection", collectionID))
	return nil
}

// Collections lists the stored collections.
func (idx *Indexer) Collections(ctx context.Context) ([]models.Collection, error) {
	return idx.store.ListCollections(ctx)
}
