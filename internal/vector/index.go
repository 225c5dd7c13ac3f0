// Package vector provides nearest-neighbor indexes over embedding vectors with
// three topologies (exact, partitioned, graph) selected by corpus size.
package vector

import (
	"encoding"
	"fmt"
	"strings"
)

// Topology is the internal search structure an index uses.
type Topology string

const (
	// TopologyExact compares the query against every stored vector.
	TopologyExact Topology = "exact"
	// TopologyPartitioned clusters vectors around k-means centroids and probes
	// the lists of the centroids nearest the query.
	TopologyPartitioned Topology = "partitioned"
	// TopologyGraph walks a hierarchical navigable small-world graph.
	TopologyGraph Topology = "graph"
)

// Corpus sizes at which SelectTopology switches topology.
const (
	PartitionedThreshold = 1000
	GraphThreshold       = 10000
)

// SelectTopology returns the topology for a corpus of n vectors.
func SelectTopology(n int) Topology {
	switch {
	case n < PartitionedThreshold:
		return TopologyExact
	case n < GraphThreshold:
		return TopologyPartitioned
	default:
		return TopologyGraph
	}
}

// ParseTopology parses a configured index type. "auto" and "" return the empty
// topology, meaning SelectTopology decides. The aliases flat, ivf and hnsw are accepted.
func ParseTopology(s string) (Topology, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return "", nil
	case "exact", "flat":
		return TopologyExact, nil
	case "partitioned", "ivf":
		return TopologyPartitioned, nil
	case "graph", "hnsw":
		return TopologyGraph, nil
	default:
		return "", fmt.Errorf("unknown index type: %s (supported: auto, exact, partitioned, graph)", s)
	}
}

// Neighbor is a search hit: the squared L2 distance to the query and the position
// of the stored vector in the sequence the index was built from.
type Neighbor struct {
	Distance float32
	Position int
}

// Index is a nearest-neighbor index. Build is called once; after that the index
// is read-only and Search is safe for concurrent use.
type Index interface {
	Topology() Topology
	// Build stores vectors and constructs the topology's search structure.
	Build(vectors [][]float32) error
	// Search returns up to k neighbors sorted by ascending distance.
	Search(query []float32, k int) ([]Neighbor, error)
	Len() int
	Dimensions() int
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// New returns an unbuilt index of the given topology.
func New(t Topology) (Index, error) {
	switch t {
	case TopologyExact:
		return NewExactIndex(), nil
	case TopologyPartitioned:
		return NewPartitionedIndex(), nil
	case TopologyGraph:
		return NewGraphIndex(DefaultGraphParams()), nil
	default:
		return nil, fmt.Errorf("unknown topology: %q", t)
	}
}

// BuildIndex selects a topology for len(vectors) unless forced is non-empty,
// then builds and returns the index.
func BuildIndex(vectors [][]float32, forced Topology) (Index, error) {
	t := forced
	if t == "" {
		t = SelectTopology(len(vectors))
	}
	idx, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := idx.Build(vectors); err != nil {
		return nil, err
	}
	return idx, nil
}
