// Package models defines core data structures for chunks, queries, and retrieval results.
package models

import "time"

// Chunk is a unit of source text plus scalar metadata. Chunks are immutable once
// produced upstream and are owned by the collection that contains them.
type Chunk struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Collection is a named set of chunks.
type Collection struct {
	ID         string    `json:"id"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Source tags attached to retrieved chunks.
const (
	SourceSelf     = "self"
	SourceExternal = "external"
	SourceKeyword  = "keyword"
)

// ScoredChunk is a per-query result. Score is a distance for the self path and a
// similarity for the other paths; Rank is 1-based within the producing path.
type ScoredChunk struct {
	Chunk           Chunk   `json:"chunk"`
	Score           float64 `json:"score"`
	Rank            int     `json:"rank"`
	SourceTag       string  `json:"source_tag"`
	RetrieverSource string  `json:"retriever_source,omitempty"`
	RetrieverWeight float64 `json:"retriever_weight,omitempty"`
}

// CloneMetadata returns a shallow copy of m with room for extra keys.
func CloneMetadata(m map[string]interface{}, extra int) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+extra)
	for k, v := range m {
		out[k] = v
	}
	return out
}
