// Package storage defines the persistence interface for collections and their chunks.
package storage

import (
	"context"

	"github.com/hyperjump/kensaku/internal/models"
)

// Storage defines collection and chunk persistence operations. Chunks keep the
// order in which they were added; that order defines index positions.
type Storage interface {
	// Chunk operations
	AddChunks(ctx context.Context, collectionID string, chunks []models.Chunk) error
	ReplaceChunks(ctx context.Context, collectionID string, chunks []models.Chunk) error
	ListChunks(ctx context.Context, collectionID string) ([]models.Chunk, error)
	CountChunks(ctx context.Context, collectionID string) (int, error)

	// Collection operations
	DeleteCollection(ctx context.Context, collectionID string) error
	ListCollections(ctx context.Context) ([]models.Collection, error)

	Close() error
}
