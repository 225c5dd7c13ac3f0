// Package cache persists built vector indexes per collection so that a restart can
// adopt them instead of re-embedding every chunk.
//
// Each collection gets its own directory under the cache root holding three
// artifacts: index.bin (the serialized index), embeddings.bin (the vectors tagged
// with their chunk ids) and chunks.json (the chunk array plus a header).
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vector"
	"go.uber.org/zap"
)

// Artifact file names inside a collection directory.
const (
	IndexFile      = "index.bin"
	EmbeddingsFile = "embeddings.bin"
	ChunksFile     = "chunks.json"
)

// ErrPersist marks a failure to write cache artifacts.
var ErrPersist = errors.New("cache persist failed")

// Entry is a cached index together with the vectors and chunks it was built from.
type Entry struct {
	CollectionID string
	Topology     vector.Topology
	Index        vector.Index
	Vectors      [][]float32
	Chunks       []models.Chunk
	CreatedAt    time.Time
}

// chunksFile is the on-disk layout of chunks.json.
type chunksFile struct {
	CollectionID string          `json:"collection_id"`
	Topology     vector.Topology `json:"topology"`
	Dimensions   int             `json:"dimensions"`
	CreatedAt    time.Time       `json:"created_at"`
	Chunks       []models.Chunk  `json:"chunks"`
}

// IndexCache reads and writes per-collection index artifacts under a root directory.
type IndexCache struct {
	dir    string
	logger *zap.Logger
}

// Option configures an IndexCache.
type Option func(*IndexCache)

// WithLogger sets the logger. If nil, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return func(c *IndexCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a cache rooted at dir. The directory is created lazily on Save.
func New(dir string, opts ...Option) *IndexCache {
	c := &IndexCache{dir: dir, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the cache root directory.
func (c *IndexCache) Root() string {
	return c.dir
}

// Dir returns the artifact directory for collectionID.
func (c *IndexCache) Dir(collectionID string) string {
	return filepath.Join(c.dir, SafeName(collectionID))
}

// Load returns the cached entry for collectionID, or nil when any artifact is
// missing, fails to decode, or disagrees with the others.
func (c *IndexCache) Load(collectionID string) *Entry {
	dir := c.Dir(collectionID)
	log := c.logger.With(zap.String("collection", collectionID), zap.String("dir", dir))

	header, err := readChunks(filepath.Join(dir, ChunksFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Debug("cache chunks unreadable", zap.Error(err))
		}
		return nil
	}
	ids, vectors, err := readEmbeddings(filepath.Join(dir, EmbeddingsFile))
	if err != nil {
		log.Debug("cache embeddings unreadable", zap.Error(err))
		return nil
	}
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		log.Debug("cache index unreadable", zap.Error(err))
		return nil
	}
	idx, err := vector.Decode(data)
	if err != nil {
		log.Debug("cache index corrupt", zap.Error(err))
		return nil
	}

	if err := consistent(collectionID, header, ids, vectors, idx); err != nil {
		log.Debug("cache artifacts inconsistent", zap.Error(err))
		return nil
	}

	return &Entry{
		CollectionID: collectionID,
		Topology:     idx.Topology(),
		Index:        idx,
		Vectors:      vectors,
		Chunks:       header.Chunks,
		CreatedAt:    header.CreatedAt,
	}
}

func consistent(collectionID string, h *chunksFile, ids []string, vectors [][]float32, idx vector.Index) error {
	if h.CollectionID != collectionID {
		return fmt.Errorf("collection id %q, want %q", h.CollectionID, collectionID)
	}
	if h.Topology != idx.Topology() {
		return fmt.Errorf("header topology %s, index topology %s", h.Topology, idx.Topology())
	}
	n := len(h.Chunks)
	if len(vectors) != n || idx.Len() != n {
		return fmt.Errorf("counts differ: chunks=%d embeddings=%d index=%d", n, len(vectors), idx.Len())
	}
	if n > 0 && (idx.Dimensions() != h.Dimensions || len(vectors[0]) != h.Dimensions) {
		return fmt.Errorf("dimensions differ: header=%d index=%d embeddings=%d", h.Dimensions, idx.Dimensions(), len(vectors[0]))
	}
	for i, id := range ids {
		if h.Chunks[i].ID != id {
			return fmt.Errorf("chunk %d: embedding id %q, chunk id %q", i, id, h.Chunks[i].ID)
		}
	}
	return nil
}

// Validate reports whether entry still matches the current chunk set. Only the
// count is compared; content edits that keep the count are not detected.
func (c *IndexCache) Validate(entry *Entry, current []models.Chunk) bool {
	return entry != nil && len(entry.Chunks) == len(current)
}

// Save writes all three artifacts for collectionID. Each file is written to a
// temporary name and renamed into place.
func (c *IndexCache) Save(collectionID string, idx vector.Index, vectors [][]float32, chunks []models.Chunk) error {
	if idx == nil {
		return fmt.Errorf("%w: nil index", ErrPersist)
	}
	if len(vectors) != len(chunks) || idx.Len() != len(chunks) {
		return fmt.Errorf("%w: counts differ: chunks=%d vectors=%d index=%d", ErrPersist, len(chunks), len(vectors), idx.Len())
	}
	dir := c.Dir(collectionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create cache dir: %w", ErrPersist, err)
	}

	indexData, err := idx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: encode index: %w", ErrPersist, err)
	}
	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = chunks[i].ID
	}
	embData, err := encodeEmbeddings(idx.Dimensions(), ids, vectors)
	if err != nil {
		return fmt.Errorf("%w: encode embeddings: %w", ErrPersist, err)
	}
	chunkData, err := json.Marshal(chunksFile{
		CollectionID: collectionID,
		Topology:     idx.Topology(),
		Dimensions:   idx.Dimensions(),
		CreatedAt:    time.Now().UTC(),
		Chunks:       chunks,
	})
	if err != nil {
		return fmt.Errorf("%w: encode chunks: %w", ErrPersist, err)
	}

	for _, f := range []struct {
		name string
		data []byte
	}{
		{IndexFile, indexData},
		{EmbeddingsFile, embData},
		{ChunksFile, chunkData},
	} {
		if err := writeFileAtomic(filepath.Join(dir, f.name), f.data); err != nil {
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
	}
	c.logger.Debug("cache saved",
		zap.String("collection", collectionID),
		zap.String("topology", string(idx.Topology())),
		zap.Int("vectors", idx.Len()))
	return nil
}

// Invalidate removes the collection's cache directory. A missing directory is not an error.
func (c *IndexCache) Invalidate(collectionID string) error {
	if err := os.RemoveAll(c.Dir(collectionID)); err != nil {
		return fmt.Errorf("remove cache dir: %w", err)
	}
	return nil
}

// Usage returns the bytes used by the collection's cache artifacts.
func (c *IndexCache) Usage(collectionID string) (int64, error) {
	return storage.DiskUsageBytes(c.Dir(collectionID))
}

// SafeName maps a collection id to a directory name that is stable, unique per id
// and safe on any filesystem.
func SafeName(collectionID string) string {
	var b strings.Builder
	for _, r := range collectionID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= 48 {
			break
		}
	}
	hash := sha256.Sum256([]byte(collectionID))
	return b.String() + "-" + hex.EncodeToString(hash[:6])
}

func readChunks(path string) (*chunksFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h chunksFile
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ChunksFile, err)
	}
	return &h, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
