package vector

import (
	"container/heap"
	"fmt"
	"sort"
)

// vectorSet holds the vectors an index was built from, by position.
type vectorSet struct {
	dimensions int
	vectors    [][]float32
}

// load copies vectors into the set after checking they are non-empty and share a dimension.
func (s *vectorSet) load(vectors [][]float32) error {
	if len(vectors) == 0 {
		return fmt.Errorf("%w: no vectors", ErrBuild)
	}
	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("%w: zero-length vector", ErrBuild)
	}
	stored := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d, expected %d", ErrBuild, i, len(v), dim)
		}
		vec := make([]float32, dim)
		copy(vec, v)
		stored[i] = vec
	}
	s.dimensions = dim
	s.vectors = stored
	return nil
}

func (s *vectorSet) checkQuery(query []float32) error {
	if s.vectors == nil {
		return ErrNotBuilt
	}
	if len(query) != s.dimensions {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(query), s.dimensions)
	}
	return nil
}

// Len returns the number of stored vectors.
func (s *vectorSet) Len() int {
	return len(s.vectors)
}

// Dimensions returns the vector dimension, or 0 before Build.
func (s *vectorSet) Dimensions() int {
	return s.dimensions
}

// closer orders neighbors by distance, then by position so results are deterministic.
func closer(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Position < b.Position
}

// farthestFirst is a max-heap on distance; the root is the worst kept neighbor.
type farthestFirst []Neighbor

func (h farthestFirst) Len() int            { return len(h) }
func (h farthestFirst) Less(i, j int) bool  { return closer(h[j], h[i]) }
func (h farthestFirst) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *farthestFirst) Push(x interface{}) { *h = append(*h, x.(Neighbor)) }
func (h *farthestFirst) Pop() interface{} {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

// topK keeps the k closest neighbors pushed into it.
type topK struct {
	k int
	h farthestFirst
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(farthestFirst, 0, k)}
}

func (t *topK) push(n Neighbor) {
	if t.k <= 0 {
		return
	}
	if len(t.h) < t.k {
		heap.Push(&t.h, n)
		return
	}
	if closer(n, t.h[0]) {
		t.h[0] = n
		heap.Fix(&t.h, 0)
	}
}

func (t *topK) full() bool {
	return len(t.h) >= t.k
}

func (t *topK) worst() Neighbor {
	return t.h[0]
}

// sorted returns the kept neighbors in ascending order.
func (t *topK) sorted() []Neighbor {
	out := make([]Neighbor, len(t.h))
	copy(out, t.h)
	sort.Slice(out, func(i, j int) bool { return closer(out[i], out[j]) })
	return out
}
