package vector

// ExactIndex is a brute-force index: search compares the query with every stored vector.
type ExactIndex struct {
	vectorSet
}

// NewExactIndex returns an unbuilt exact index.
func NewExactIndex() *ExactIndex {
	return &ExactIndex{}
}

// Topology returns TopologyExact.
func (e *ExactIndex) Topology() Topology {
	return TopologyExact
}

// Build stores the vectors. There is no training step.
func (e *ExactIndex) Build(vectors [][]float32) error {
	return e.load(vectors)
}

// Search returns the k nearest stored vectors by squared L2 distance.
func (e *ExactIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if err := e.checkQuery(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}
	top := newTopK(k)
	for pos, vec := range e.vectors {
		top.push(Neighbor{Distance: SquaredL2(query, vec), Position: pos})
	}
	return top.sorted(), nil
}

// MarshalBinary encodes the index: header, then the vectors.
func (e *ExactIndex) MarshalBinary() ([]byte, error) {
	if e.vectors == nil {
		return nil, ErrNotBuilt
	}
	w := newEncoder(TopologyExact)
	w.vectors(e.dimensions, e.vectors)
	return w.bytes(), nil
}

// UnmarshalBinary replaces the index contents with data produced by MarshalBinary.
func (e *ExactIndex) UnmarshalBinary(data []byte) error {
	r, err := newDecoder(data, TopologyExact)
	if err != nil {
		return err
	}
	dim, vectors := r.vectors()
	if err := r.finish(); err != nil {
		return err
	}
	e.dimensions, e.vectors = dim, vectors
	return nil
}
