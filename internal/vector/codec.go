package vector

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Serialized layout (little-endian): magic "KSIX", version (2), topology code (1),
// dimension (4), count (4), count*dimension float32 values, then the
// topology-specific section.
var magic = [4]byte{'K', 'S', 'I', 'X'}

const codecVersion uint16 = 1

const headerSize = len(magic) + 2 + 1

var topologyCodes = map[Topology]byte{
	TopologyExact:       1,
	TopologyPartitioned: 2,
	TopologyGraph:       3,
}

// Decode reads the header of data and returns an index of the recorded topology
// populated from data.
func Decode(data []byte) (Index, error) {
	t, err := PeekTopology(data)
	if err != nil {
		return nil, err
	}
	idx, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := idx.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return idx, nil
}

// PeekTopology returns the topology recorded in a serialized index header.
func PeekTopology(data []byte) (Topology, error) {
	if len(data) < headerSize || !bytes.Equal(data[:len(magic)], magic[:]) {
		return "", fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(data[len(magic):]); v != codecVersion {
		return "", fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	code := data[len(magic)+2]
	for t, c := range topologyCodes {
		if c == code {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown topology code %d", ErrCorrupt, code)
}

type encoder struct {
	buf bytes.Buffer
}

func newEncoder(t Topology) *encoder {
	e := &encoder{}
	e.buf.Write(magic[:])
	var v [2]byte
	binary.LittleEndian.PutUint16(v[:], codecVersion)
	e.buf.Write(v[:])
	e.buf.WriteByte(topologyCodes[t])
	return e
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) floats(s []float32) {
	e.buf.Write(float32SliceToBytes(s))
}

func (e *encoder) vectors(dim int, vectors [][]float32) {
	e.u32(uint32(dim))
	e.u32(uint32(len(vectors)))
	for _, v := range vectors {
		e.floats(v)
	}
}

func (e *encoder) bytes() []byte {
	return e.buf.Bytes()
}

// decoder reads fields sequentially; the first failure sticks and later reads return zero values.
type decoder struct {
	data []byte
	off  int
	err  error
}

func newDecoder(data []byte, want Topology) (*decoder, error) {
	t, err := PeekTopology(data)
	if err != nil {
		return nil, err
	}
	if t != want {
		return nil, fmt.Errorf("%w: topology is %s, expected %s", ErrCorrupt, t, want)
	}
	return &decoder{data: data, off: headerSize}, nil
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.data)-d.off < n {
		d.err = fmt.Errorf("%w: truncated at offset %d", ErrCorrupt, d.off)
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// count reads a uint32 length and rejects values that cannot fit in the remaining
// data given elemSize bytes per element.
func (d *decoder) count(elemSize int) int {
	n := int(d.u32())
	if d.err == nil && elemSize > 0 && n > (len(d.data)-d.off)/elemSize {
		d.err = fmt.Errorf("%w: count %d exceeds remaining data", ErrCorrupt, n)
		return 0
	}
	return n
}

func (d *decoder) floats(n int) []float32 {
	b := d.take(n * 4)
	if b == nil {
		return nil
	}
	return bytesToFloat32Slice(b)
}

func (d *decoder) vectors() (int, [][]float32) {
	dim := int(d.u32())
	if d.err == nil && dim == 0 {
		d.err = fmt.Errorf("%w: zero dimension", ErrCorrupt)
	}
	n := d.count(dim * 4)
	if d.err == nil && n == 0 {
		d.err = fmt.Errorf("%w: empty vector set", ErrCorrupt)
	}
	if d.err != nil {
		return 0, nil
	}
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = d.floats(dim)
	}
	return dim, vectors
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(d.data)-d.off)
	}
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
