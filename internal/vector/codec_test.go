package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		[]byte("KS"),
		[]byte("not an index at all"),
	} {
		_, err := Decode(data)
		assert.ErrorIs(t, err, ErrCorrupt)
	}
}

func TestDecode_RejectsTruncated(t *testing.T) {
	for _, topology := range []Topology{TopologyExact, TopologyPartitioned, TopologyGraph} {
		topology := topology
		t.Run(string(topology), func(t *testing.T) {
			idx, err := BuildIndex(randomVectors(40, 4, 41), topology)
			require.NoError(t, err)
			data, err := idx.MarshalBinary()
			require.NoError(t, err)

			_, err = Decode(data[:len(data)-3])
			assert.ErrorIs(t, err, ErrCorrupt)
			_, err = Decode(append(append([]byte{}, data...), 0))
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestUnmarshal_TopologyMismatch(t *testing.T) {
	idx, err := BuildIndex(randomVectors(10, 4, 42), TopologyExact)
	require.NoError(t, err)
	data, err := idx.MarshalBinary()
	require.NoError(t, err)

	err = NewGraphIndex(DefaultGraphParams()).UnmarshalBinary(data)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestPeekTopology(t *testing.T) {
	idx, err := BuildIndex(randomVectors(10, 4, 43), TopologyPartitioned)
	require.NoError(t, err)
	data, err := idx.MarshalBinary()
	require.NoError(t, err)
	got, err := PeekTopology(data)
	require.NoError(t, err)
	assert.Equal(t, TopologyPartitioned, got)
}

func TestFloat32BytesRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.4e38}
	assert.Equal(t, in, bytesToFloat32Slice(float32SliceToBytes(in)))
}
