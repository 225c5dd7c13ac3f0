package indexer

import (
	"sync"
	"time"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/vector"
)

// Handle is a built, immutable index for one collection together with the chunks
// its positions refer to.
type Handle struct {
	CollectionID string
	Index        vector.Index
	Chunks       []models.Chunk
	Topology     vector.Topology
	Dimensions   int
	BuiltAt      time.Time
	FromCache    bool
}

// Registry maps collection ids to their current Handle. Every Delete bumps the
// collection's generation so that builds started before it cannot install a
// stale handle afterwards.
type Registry struct {
	mu          sync.RWMutex
	handles     map[string]*Handle
	generations map[string]uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles:     make(map[string]*Handle),
		generations: make(map[string]uint64),
	}
}

// Get returns the current handle for collectionID, or nil.
func (r *Registry) Get(collectionID string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[collectionID]
}

// Generation returns the collection's current generation.
func (r *Registry) Generation(collectionID string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generations[collectionID]
}

// SwapIfCurrent installs h when the collection is still at generation gen and
// reports whether it did.
func (r *Registry) SwapIfCurrent(h *Handle, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generations[h.CollectionID] != gen {
		return false
	}
	r.handles[h.CollectionID] = h
	return true
}

// Delete drops the collection's handle and starts a new generation.
func (r *Registry) Delete(collectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, collectionID)
	r.generations[collectionID]++
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
