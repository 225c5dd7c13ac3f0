package vector

import "fmt"

// MaxProbe caps the number of partitions searched per query.
const MaxProbe = 10

// NList returns the number of partitions for a corpus of n vectors: n/10 clamped to [1, 100].
func NList(n int) int {
	return max(1, min(n/10, 100))
}

// NProbe returns the number of partitions probed per query for nlist partitions.
func NProbe(nlist int) int {
	return min(nlist, MaxProbe)
}

// PartitionedIndex is an inverted-file index. Vectors are assigned to their nearest
// k-means centroid; queries probe the nearest centroids and compare exactly within
// their lists.
type PartitionedIndex struct {
	vectorSet
	nprobe    int
	centroids [][]float32
	assign    []int   // position -> partition
	lists     [][]int // partition -> positions
}

// NewPartitionedIndex returns an unbuilt partitioned index.
func NewPartitionedIndex() *PartitionedIndex {
	return &PartitionedIndex{}
}

// Topology returns TopologyPartitioned.
func (p *PartitionedIndex) Topology() Topology {
	return TopologyPartitioned
}

// NumPartitions returns the number of centroids, or 0 before Build.
func (p *PartitionedIndex) NumPartitions() int {
	return len(p.centroids)
}

// Build trains centroids over vectors and assigns every vector to a partition.
func (p *PartitionedIndex) Build(vectors [][]float32) error {
	if err := p.load(vectors); err != nil {
		return err
	}
	nlist := NList(len(p.vectors))
	p.centroids = trainKMeans(p.vectors, nlist)
	p.nprobe = NProbe(nlist)
	p.assign = assignNearest(p.vectors, p.centroids)
	p.lists = invertAssignments(p.assign, nlist)
	return nil
}

func invertAssignments(assign []int, nlist int) [][]int {
	lists := make([][]int, nlist)
	for pos, c := range assign {
		lists[c] = append(lists[c], pos)
	}
	return lists
}

// Search probes the nprobe partitions nearest the query and returns the k nearest
// vectors found in them. Fewer than k results are returned when the probed
// partitions hold fewer vectors.
func (p *PartitionedIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if err := p.checkQuery(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}
	probes := newTopK(p.nprobe)
	for c, centroid := range p.centroids {
		probes.push(Neighbor{Distance: SquaredL2(query, centroid), Position: c})
	}
	top := newTopK(k)
	for _, probe := range probes.sorted() {
		for _, pos := range p.lists[probe.Position] {
			top.push(Neighbor{Distance: SquaredL2(query, p.vectors[pos]), Position: pos})
		}
	}
	return top.sorted(), nil
}

// MarshalBinary encodes the vectors, nprobe, the centroids and the assignment table.
func (p *PartitionedIndex) MarshalBinary() ([]byte, error) {
	if p.vectors == nil {
		return nil, ErrNotBuilt
	}
	w := newEncoder(TopologyPartitioned)
	w.vectors(p.dimensions, p.vectors)
	w.u32(uint32(p.nprobe))
	w.u32(uint32(len(p.centroids)))
	for _, c := range p.centroids {
		w.floats(c)
	}
	for _, c := range p.assign {
		w.u32(uint32(c))
	}
	return w.bytes(), nil
}

// UnmarshalBinary replaces the index contents with data produced by MarshalBinary.
func (p *PartitionedIndex) UnmarshalBinary(data []byte) error {
	r, err := newDecoder(data, TopologyPartitioned)
	if err != nil {
		return err
	}
	dim, vectors := r.vectors()
	nprobe := int(r.u32())
	nlist := r.count(dim * 4)
	centroids := make([][]float32, nlist)
	for i := range centroids {
		centroids[i] = r.floats(dim)
	}
	assign := make([]int, len(vectors))
	for i := range assign {
		assign[i] = int(r.u32())
	}
	if err := r.finish(); err != nil {
		return err
	}
	if nlist == 0 || nprobe <= 0 || nprobe > nlist {
		return fmt.Errorf("%w: nlist %d, nprobe %d", ErrCorrupt, nlist, nprobe)
	}
	for pos, c := range assign {
		if c >= nlist {
			return fmt.Errorf("%w: vector %d assigned to partition %d of %d", ErrCorrupt, pos, c, nlist)
		}
	}
	p.dimensions, p.vectors = dim, vectors
	p.nprobe, p.centroids, p.assign = nprobe, centroids, assign
	p.lists = invertAssignments(assign, nlist)
	return nil
}
