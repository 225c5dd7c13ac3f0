package cache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// maxIDLen bounds a single chunk id read from embeddings.bin.
const maxIDLen = 1 << 16

// encodeEmbeddings lays out dimension (4), n (4), then per vector: idLen (4),
// id bytes, vector (dimension*4 bytes). All integers are little-endian.
func encodeEmbeddings(dimensions int, ids []string, vectors [][]float32) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(8 + len(vectors)*(8+dimensions*4))
	if err := binary.Write(&buf, binary.LittleEndian, uint32(dimensions)); err != nil {
		return nil, fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(ids))); err != nil {
		return nil, fmt.Errorf("write count: %w", err)
	}
	for i, id := range ids {
		if len(vectors[i]) != dimensions {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(vectors[i]), dimensions)
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(id))); err != nil {
			return nil, fmt.Errorf("write id len: %w", err)
		}
		buf.WriteString(id)
		if err := binary.Write(&buf, binary.LittleEndian, vectors[i]); err != nil {
			return nil, fmt.Errorf("write vector: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func readEmbeddings(path string) ([]string, [][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	return decodeEmbeddings(bufio.NewReader(f), info.Size())
}

func decodeEmbeddings(r io.Reader, size int64) ([]string, [][]float32, error) {
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, nil, fmt.Errorf("read dimensions: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, nil, fmt.Errorf("read count: %w", err)
	}
	// Each record needs at least its id length and vector.
	if int64(n)*(4+int64(dim)*4) > size {
		return nil, nil, fmt.Errorf("count %d with dimension %d exceeds file size %d", n, dim, size)
	}

	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, nil, fmt.Errorf("read id len: %w", err)
		}
		if idLen > maxIDLen {
			return nil, nil, fmt.Errorf("id length %d too large", idLen)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, nil, fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, fmt.Errorf("read vector: %w", err)
		}
		ids = append(ids, string(idBytes))
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	if _, err := r.Read(make([]byte, 1)); err != io.EOF {
		return nil, nil, fmt.Errorf("trailing data after %d vectors", n)
	}
	return ids, vectors, nil
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
