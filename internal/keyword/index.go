// Package keyword provides the keyword (BM25) chunk index used by the
// keyword_hybrid retrieval mode.
package keyword

import (
	"context"

	"github.com/hyperjump/kensaku/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// PhraseBoost multiplies the score when query terms appear close together (phrase match).
	// Values > 1 boost chunks with adjacent query terms (e.g. 1.5). Use 1.0 for no boost.
	PhraseBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 2 when FuzzyEnabled is true.
	Fuzziness int
}

// KeywordIndex defines keyword search operations over per-collection chunks.
type KeywordIndex interface {
	IndexChunks(ctx context.Context, collectionID string, chunks []models.Chunk) error
	Search(ctx context.Context, collectionID, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	DeleteCollection(ctx context.Context, collectionID string) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	Chunk models.Chunk
	Score float64
}
