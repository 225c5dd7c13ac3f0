package vector

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func positions(ns []Neighbor) []int {
	out := make([]int, len(ns))
	for i, n := range ns {
		out[i] = n.Position
	}
	return out
}

func TestSelectTopology(t *testing.T) {
	tests := []struct {
		n    int
		want Topology
	}{
		{0, TopologyExact},
		{999, TopologyExact},
		{1000, TopologyPartitioned},
		{9999, TopologyPartitioned},
		{10000, TopologyGraph},
		{250000, TopologyGraph},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SelectTopology(tt.n), "n=%d", tt.n)
	}
}

func TestParseTopology(t *testing.T) {
	tests := []struct {
		in      string
		want    Topology
		wantErr bool
	}{
		{"", "", false},
		{"auto", "", false},
		{"flat", TopologyExact, false},
		{"IVF", TopologyPartitioned, false},
		{"hnsw", TopologyGraph, false},
		{"graph", TopologyGraph, false},
		{"lsh", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTopology(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNListAndNProbe(t *testing.T) {
	assert.Equal(t, 1, NList(5))
	assert.Equal(t, 25, NList(250))
	assert.Equal(t, 100, NList(1000))
	assert.Equal(t, 100, NList(9999))
	assert.Equal(t, 3, NProbe(3))
	assert.Equal(t, 10, NProbe(100))
}

func TestNew_UnknownTopology(t *testing.T) {
	_, err := New("lsh")
	assert.Error(t, err)
}

func TestBuildIndex_SelectsBySize(t *testing.T) {
	idx, err := BuildIndex(randomVectors(50, 4, 1), "")
	require.NoError(t, err)
	assert.Equal(t, TopologyExact, idx.Topology())
	assert.Equal(t, 50, idx.Len())
	assert.Equal(t, 4, idx.Dimensions())

	forced, err := BuildIndex(randomVectors(50, 4, 1), TopologyGraph)
	require.NoError(t, err)
	assert.Equal(t, TopologyGraph, forced.Topology())
}

func TestBuild_Errors(t *testing.T) {
	for _, topology := range []Topology{TopologyExact, TopologyPartitioned, TopologyGraph} {
		topology := topology
		t.Run(string(topology), func(t *testing.T) {
			idx, err := New(topology)
			require.NoError(t, err)
			assert.ErrorIs(t, idx.Build(nil), ErrBuild)
			assert.ErrorIs(t, idx.Build([][]float32{{1, 2}, {1, 2, 3}}), ErrBuild)
			assert.ErrorIs(t, idx.Build([][]float32{{}}), ErrBuild)
		})
	}
}

func TestSearch_Errors(t *testing.T) {
	for _, topology := range []Topology{TopologyExact, TopologyPartitioned, TopologyGraph} {
		topology := topology
		t.Run(string(topology), func(t *testing.T) {
			idx, err := New(topology)
			require.NoError(t, err)
			_, err = idx.Search([]float32{1, 2}, 3)
			assert.ErrorIs(t, err, ErrNotBuilt)
			_, err = idx.MarshalBinary()
			assert.ErrorIs(t, err, ErrNotBuilt)

			require.NoError(t, idx.Build(randomVectors(20, 2, 7)))
			_, err = idx.Search([]float32{1, 2, 3}, 3)
			assert.ErrorIs(t, err, ErrDimensionMismatch)

			got, err := idx.Search([]float32{1, 2}, 0)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestSearch_PositionsInRangeAndSorted(t *testing.T) {
	vectors := randomVectors(300, 8, 3)
	queries := randomVectors(10, 8, 4)
	for _, topology := range []Topology{TopologyExact, TopologyPartitioned, TopologyGraph} {
		topology := topology
		t.Run(string(topology), func(t *testing.T) {
			idx, err := BuildIndex(vectors, topology)
			require.NoError(t, err)
			for _, q := range queries {
				got, err := idx.Search(q, 15)
				require.NoError(t, err)
				assert.LessOrEqual(t, len(got), 15)
				for i, n := range got {
					assert.GreaterOrEqual(t, n.Position, 0)
					assert.Less(t, n.Position, len(vectors))
					if i > 0 {
						assert.LessOrEqual(t, got[i-1].Distance, n.Distance)
					}
				}
			}
		})
	}
}

func TestSearch_ConcurrentReaders(t *testing.T) {
	idx, err := BuildIndex(randomVectors(400, 8, 5), TopologyGraph)
	require.NoError(t, err)
	queries := randomVectors(16, 8, 6)
	want := make([][]Neighbor, len(queries))
	for i, q := range queries {
		want[i], err = idx.Search(q, 5)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i, q := range queries {
		i, q := i, q
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := idx.Search(q, 5)
			assert.NoError(t, err)
			assert.Equal(t, want[i], got)
		}()
	}
	wg.Wait()
}
