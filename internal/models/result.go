package models

import "time"

// RetrieveResponse is the response for a retrieval request.
type RetrieveResponse struct {
	CollectionID string        `json:"collection_id"`
	Query        string        `json:"query"`
	Mode         RetrievalMode `json:"mode"`
	Results      []ScoredChunk `json:"results"`
	Total        int           `json:"total"`
	QueryTime    int64         `json:"query_time_ms"`
}

// Index status values reported by IndexStats.
const (
	StatusReady    = "ready"
	StatusCached   = "cached"
	StatusNotBuilt = "not_built"
)

// IndexStats describes the state of a collection's self-managed index.
type IndexStats struct {
	Status       string    `json:"status"`
	CollectionID string    `json:"collection_id"`
	Topology     string    `json:"topology,omitempty"`
	TotalVectors int       `json:"total_vectors"`
	EmbeddingDim int       `json:"embedding_dim"`
	ChunkCount   int       `json:"chunk_count"`
	CacheDir     string    `json:"cache_dir"`
	CacheBytes   int64     `json:"cache_bytes"`
	FromCache    bool      `json:"from_cache"`
	BuiltAt      time.Time `json:"built_at,omitempty"`
}
