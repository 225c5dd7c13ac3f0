package vector

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
)

// GraphParams configures a GraphIndex.
type GraphParams struct {
	// M is the out-degree per node on upper layers; layer 0 allows 2*M.
	M int
	// EfConstruction is the beam width used while inserting.
	EfConstruction int
	// EfSearch is the minimum beam width used while querying.
	EfSearch int
}

// DefaultGraphParams returns M=32, efConstruction=40, efSearch=40.
func DefaultGraphParams() GraphParams {
	return GraphParams{M: 32, EfConstruction: 40, EfSearch: 40}
}

const (
	graphSeed     = 4321
	maxGraphLevel = 16
)

// GraphIndex is a hierarchical navigable small-world graph. Search is approximate.
type GraphIndex struct {
	vectorSet
	params   GraphParams
	entry    int
	maxLevel int
	links    [][][]int32 // node -> layer -> neighbor positions
}

// NewGraphIndex returns an unbuilt graph index. Zero fields in p take their defaults.
func NewGraphIndex(p GraphParams) *GraphIndex {
	def := DefaultGraphParams()
	if p.M <= 1 {
		p.M = def.M
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = def.EfConstruction
	}
	if p.EfSearch <= 0 {
		p.EfSearch = def.EfSearch
	}
	return &GraphIndex{params: p, maxLevel: -1}
}

// Topology returns TopologyGraph.
func (g *GraphIndex) Topology() Topology {
	return TopologyGraph
}

// Params returns the graph parameters.
func (g *GraphIndex) Params() GraphParams {
	return g.params
}

// Build inserts every vector in position order. Layer assignment uses a fixed seed,
// so the same input always yields the same graph.
func (g *GraphIndex) Build(vectors [][]float32) error {
	if err := g.load(vectors); err != nil {
		return err
	}
	g.links = make([][][]int32, len(g.vectors))
	g.entry, g.maxLevel = 0, -1
	rng := rand.New(rand.NewSource(graphSeed))
	mult := 1 / math.Log(float64(g.params.M))
	for pos := range g.vectors {
		level := int(-math.Log(1-rng.Float64()) * mult)
		g.insert(pos, min(level, maxGraphLevel))
	}
	return nil
}

func (g *GraphIndex) insert(pos, level int) {
	g.links[pos] = make([][]int32, level+1)
	if g.maxLevel < 0 {
		g.entry, g.maxLevel = pos, level
		return
	}
	vec := g.vectors[pos]
	ep := Neighbor{Distance: SquaredL2(vec, g.vectors[g.entry]), Position: g.entry}
	for layer := g.maxLevel; layer > level; layer-- {
		ep = g.greedy(vec, ep, layer)
	}
	for layer := min(level, g.maxLevel); layer >= 0; layer-- {
		candidates := g.searchLayer(vec, ep, g.params.EfConstruction, layer)
		selected := candidates
		if len(selected) > g.params.M {
			selected = selected[:g.params.M]
		}
		ids := make([]int32, len(selected))
		for i, nb := range selected {
			ids[i] = int32(nb.Position)
		}
		g.links[pos][layer] = ids
		for _, nb := range selected {
			g.connect(nb.Position, pos, layer)
		}
		ep = candidates[0]
	}
	if level > g.maxLevel {
		g.entry, g.maxLevel = pos, level
	}
}

// connect adds a back link from node to added, keeping only the closest
// neighbors when the layer's degree limit is exceeded.
func (g *GraphIndex) connect(node, added, layer int) {
	maxConn := g.params.M
	if layer == 0 {
		maxConn = 2 * g.params.M
	}
	links := append(g.links[node][layer], int32(added))
	if len(links) > maxConn {
		base := g.vectors[node]
		top := newTopK(maxConn)
		for _, id := range links {
			top.push(Neighbor{Distance: SquaredL2(base, g.vectors[id]), Position: int(id)})
		}
		kept := top.sorted()
		links = make([]int32, len(kept))
		for i, nb := range kept {
			links[i] = int32(nb.Position)
		}
	}
	g.links[node][layer] = links
}

// greedy walks a layer toward the query until no neighbor is closer.
func (g *GraphIndex) greedy(query []float32, ep Neighbor, layer int) Neighbor {
	for {
		improved := false
		for _, id := range g.links[ep.Position][layer] {
			nb := Neighbor{Distance: SquaredL2(query, g.vectors[id]), Position: int(id)}
			if closer(nb, ep) {
				ep, improved = nb, true
			}
		}
		if !improved {
			return ep
		}
	}
}

// searchLayer runs a beam search of width ef on one layer and returns the
// closest nodes found, nearest first.
func (g *GraphIndex) searchLayer(query []float32, ep Neighbor, ef, layer int) []Neighbor {
	visited := make([]uint64, (len(g.vectors)+63)/64)
	visited[ep.Position/64] |= 1 << (ep.Position % 64)

	candidates := &nearestFirst{ep}
	results := newTopK(ef)
	results.push(ep)
	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(Neighbor)
		if results.full() && closer(results.worst(), c) {
			break
		}
		for _, id := range g.links[c.Position][layer] {
			word, bit := id/64, uint64(1)<<(id%64)
			if visited[word]&bit != 0 {
				continue
			}
			visited[word] |= bit
			nb := Neighbor{Distance: SquaredL2(query, g.vectors[id]), Position: int(id)}
			if !results.full() || closer(nb, results.worst()) {
				heap.Push(candidates, nb)
				results.push(nb)
			}
		}
	}
	return results.sorted()
}

// Search descends the upper layers greedily, then beam-searches layer 0 with
// width max(k, EfSearch).
func (g *GraphIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if err := g.checkQuery(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}
	ep := Neighbor{Distance: SquaredL2(query, g.vectors[g.entry]), Position: g.entry}
	for layer := g.maxLevel; layer > 0; layer-- {
		ep = g.greedy(query, ep, layer)
	}
	found := g.searchLayer(query, ep, max(k, g.params.EfSearch), 0)
	if len(found) > k {
		found = found[:k]
	}
	return found, nil
}

// nearestFirst is a min-heap on distance.
type nearestFirst []Neighbor

func (h nearestFirst) Len() int            { return len(h) }
func (h nearestFirst) Less(i, j int) bool  { return closer(h[i], h[j]) }
func (h nearestFirst) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nearestFirst) Push(x interface{}) { *h = append(*h, x.(Neighbor)) }
func (h *nearestFirst) Pop() interface{} {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

// MarshalBinary encodes the vectors, the parameters, the entry point and every
// node's per-layer adjacency lists.
func (g *GraphIndex) MarshalBinary() ([]byte, error) {
	if g.vectors == nil {
		return nil, ErrNotBuilt
	}
	w := newEncoder(TopologyGraph)
	w.vectors(g.dimensions, g.vectors)
	w.u32(uint32(g.params.M))
	w.u32(uint32(g.params.EfConstruction))
	w.u32(uint32(g.params.EfSearch))
	w.u32(uint32(g.entry))
	w.u32(uint32(g.maxLevel))
	for _, layers := range g.links {
		w.u32(uint32(len(layers)))
		for _, ids := range layers {
			w.u32(uint32(len(ids)))
			for _, id := range ids {
				w.u32(uint32(id))
			}
		}
	}
	return w.bytes(), nil
}

// UnmarshalBinary replaces the index contents with data produced by MarshalBinary.
func (g *GraphIndex) UnmarshalBinary(data []byte) error {
	r, err := newDecoder(data, TopologyGraph)
	if err != nil {
		return err
	}
	dim, vectors := r.vectors()
	params := GraphParams{M: int(r.u32()), EfConstruction: int(r.u32()), EfSearch: int(r.u32())}
	entry, maxLevel := int(r.u32()), int(r.u32())
	links := make([][][]int32, len(vectors))
	for pos := range links {
		layers := r.count(4)
		if r.err == nil && (layers == 0 || layers > maxGraphLevel+1) {
			return fmt.Errorf("%w: node %d has %d layers", ErrCorrupt, pos, layers)
		}
		links[pos] = make([][]int32, layers)
		for layer := range links[pos] {
			ids := make([]int32, r.count(4))
			for i := range ids {
				ids[i] = int32(r.u32())
			}
			links[pos][layer] = ids
		}
	}
	if err := r.finish(); err != nil {
		return err
	}
	if params.M <= 1 || params.EfConstruction <= 0 || params.EfSearch <= 0 {
		return fmt.Errorf("%w: invalid graph parameters %+v", ErrCorrupt, params)
	}
	if entry >= len(vectors) || len(links[entry]) != maxLevel+1 {
		return fmt.Errorf("%w: bad entry point %d at level %d", ErrCorrupt, entry, maxLevel)
	}
	for pos, layers := range links {
		for layer, ids := range layers {
			for _, id := range ids {
				if int(id) < 0 || int(id) >= len(vectors) || len(links[id]) <= layer {
					return fmt.Errorf("%w: node %d links to %d on layer %d", ErrCorrupt, pos, id, layer)
				}
			}
		}
	}
	g.dimensions, g.vectors = dim, vectors
	g.params, g.entry, g.maxLevel, g.links = params, entry, maxLevel, links
	return nil
}
