package search

import (
	"github.com/cespare/xxhash/v2"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// DedupKey identifies a chunk by its normalized text.
func DedupKey(text string) uint64 {
	return xxhash.Sum64String(utils.NormalizeText(text))
}

// Merge combines the top k of a and then the top k of b into at most k results.
// A chunk whose text was already taken is dropped, so on duplicates a wins. Each
// kept result is tagged with its path and that path's weight; scores and order
// within each path are left as they came.
func Merge(a, b []models.ScoredChunk, k int, w models.Weights) []models.ScoredChunk {
	if k <= 0 {
		return []models.ScoredChunk{}
	}
	seen := make(map[uint64]struct{}, 2*k)
	out := make([]models.ScoredChunk, 0, k)
	take := func(results []models.ScoredChunk, weight float64) {
		if len(results) > k {
			results = results[:k]
		}
		for _, r := range results {
			key := DedupKey(r.Chunk.Text)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			r.RetrieverSource = r.SourceTag
			r.RetrieverWeight = weight
			out = append(out, r)
		}
	}
	take(a, w.Primary)
	take(b, w.Secondary)
	if len(out) > k {
		out = out[:k]
	}
	return out
}
