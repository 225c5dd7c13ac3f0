package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kensaku/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
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

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chunks (
		collection_id TEXT NOT NULL,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		text TEXT NOT NULL,
		metadata TEXT,
		PRIMARY KEY (collection_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_collection_position ON chunks(collection_id, position);
	`
	_, err := db.Exec(schema)
	return err
}

// AddChunks appends chunks to the collection, creating it if needed. A chunk whose
// id already exists in the collection has its text and metadata replaced in place.
func (s *SQLiteStorage) AddChunks(ctx context.Context, collectionID string, chunks []models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertCollection(ctx, tx, collectionID); err != nil {
		return err
	}
	if err := insertChunks(ctx, tx, collectionID, chunks); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceChunks swaps the collection's chunks for chunks in one transaction, so
// readers see either the old set or the new one.
func (s *SQLiteStorage) ReplaceChunks(ctx context.Context, collectionID string, chunks []models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertCollection(ctx, tx, collectionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection_id = ?`, collectionID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	if err := insertChunks(ctx, tx, collectionID, chunks); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertCollection(ctx context.Context, tx *sql.Tx, collectionID string) error {
	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collections (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		collectionID, now, now,
	); err != nil {
		return fmt.Errorf("failed to upsert collection: %w", err)
	}
	return nil
}

// insertChunks appends chunks after the collection's last position.
func insertChunks(ctx context.Context, tx *sql.Tx, collectionID string, chunks []models.Chunk) error {
	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM chunks WHERE collection_id = ?`, collectionID,
	).Scan(&next); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (collection_id, id, position, text, metadata)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(collection_id, id) DO UPDATE SET text = excluded.text, metadata = excluded.metadata`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		var metadataJSON []byte
		if len(chunk.Metadata) > 0 {
			if metadataJSON, err = json.Marshal(chunk.Metadata); err != nil {
				return fmt.Errorf("failed to marshal metadata for chunk %s: %w", chunk.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, collectionID, chunk.ID, next, chunk.Text, string(metadataJSON)); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
		next++
	}
	return nil
}

// ListChunks returns the collection's chunks ordered by position.
func (s *SQLiteStorage) ListChunks(ctx context.Context, collectionID string) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, metadata FROM chunks WHERE collection_id = ? ORDER BY position`,
		collectionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		var metadataJSON sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.Text, &metadataJSON); err != nil {
			return nil, err
		}
		if metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &chunk.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata for chunk %s: %w", chunk.ID, err)
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// CountChunks returns the number of chunks in the collection.
func (s *SQLiteStorage) CountChunks(ctx context.Context, collectionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE collection_id = ?`, collectionID).Scan(&count)
	return count, err
}

// DeleteCollection removes the collection and all of its chunks.
func (s *SQLiteStorage) DeleteCollection(ctx context.Context, collectionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection_id = ?`, collectionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, collectionID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListCollections returns all collections with their chunk counts, ordered by id.
func (s *SQLiteStorage) ListCollections(ctx context.Context) ([]models.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.created_at, c.updated_at,
		        (SELECT COUNT(*) FROM chunks k WHERE k.collection_id = c.id)
		 FROM collections c ORDER BY c.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Collection
	for rows.Next() {
		var c models.Collection
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &c.ChunkCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
