// Package external provides the dense chunk stores consulted by the external
// retrieval path: a local SQLite store that keeps its own embeddings, and an HTTP
// client for a remote kensaku server.
package external

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/vector"
)

// SQLiteStore keeps chunk embeddings as float32 BLOBs and answers queries with a
// cosine scan over the collection.
type SQLiteStore struct {
	db       *sql.DB
	embedder embedding.Embedder
	logger   *zap.Logger
}

// NewSQLiteStore opens or creates the store at dbPath. Chunks are embedded with
// embedder when indexed; queries are embedded with the same embedder.
func NewSQLiteStore(dbPath string, embedder embedding.Embedder, logger *zap.Logger) (*SQLiteStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("external store: embedder is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS external_chunks (
		collection_id TEXT NOT NULL,
		id TEXT NOT NULL,
		text TEXT NOT NULL,
		metadata TEXT,
		embedding BLOB NOT NULL,
		PRIMARY KEY (collection_id, id)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, embedder: embedder, logger: logger}, nil
}

// IndexChunks embeds and stores chunks for the collection, replacing rows with the same id.
func (s *SQLiteStore) IndexChunks(ctx context.Context, collectionID string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return embedding.Wrap(err)
	}
	if len(vecs) != len(chunks) {
		return embedding.Wrap(fmt.Errorf("got %d embeddings for %d chunks", len(vecs), len(chunks)))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO external_chunks (collection_id, id, text, metadata, embedding) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(collection_id, id) DO UPDATE SET
		   text = excluded.text, metadata = excluded.metadata, embedding = excluded.embedding`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range chunks {
		var meta []byte
		if len(c.Metadata) > 0 {
			if meta, err = json.Marshal(c.Metadata); err != nil {
				return fmt.Errorf("failed to marshal metadata for chunk %s: %w", c.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, collectionID, c.ID, c.Text, string(meta), encodeEmbedding(vecs[i])); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("external store indexed chunks",
		zap.String("collection", collectionID), zap.Int("count", len(chunks)))
	return nil
}

// DeleteCollection removes every stored chunk of the collection.
func (s *SQLiteStore) DeleteCollection(ctx context.Context, collectionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM external_chunks WHERE collection_id = ?`, collectionID)
	return err
}

// Retrieve returns the k chunks most similar to query. Score is cosine similarity;
// ties keep insertion order.
func (s *SQLiteStore) Retrieve(ctx context.Context, collectionID, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return []models.ScoredChunk{}, nil
	}
	q, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, embedding.Wrap(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, metadata, embedding FROM external_chunks WHERE collection_id = ? ORDER BY rowid`,
		collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []models.ScoredChunk
	for rows.Next() {
		var (
			c    models.Chunk
			meta sql.NullString
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.Text, &meta, &blob); err != nil {
			return nil, err
		}
		v, err := decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		if len(v) != len(q) {
			return nil, fmt.Errorf("chunk %s: %w: stored %d, query %d", c.ID, vector.ErrDimensionMismatch, len(v), len(q))
		}
		if meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata for chunk %s: %w", c.ID, err)
			}
		}
		hits = append(hits, models.ScoredChunk{Chunk: c, Score: vector.CosineSimilarity(q, v)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	for i := range hits {
		hits[i].Rank = i + 1
		hits[i].SourceTag = models.SourceExternal
	}
	return hits, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeEmbedding stores a vector as little-endian float32 values without a length prefix.
func encodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
