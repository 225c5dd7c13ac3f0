// Package chunkfile reads chunks for import: JSONL chunk files as they are, and
// text or office documents cut into overlapping windows.
package chunkfile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hyperjump/kensaku/internal/extract"
	"github.com/hyperjump/kensaku/internal/models"
)

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 16 << 20

type record struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ReadJSONL reads one chunk per line. Blank lines are skipped and chunks without
// an id get a random one.
func ReadJSONL(r io.Reader) ([]models.Chunk, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var chunks []models.Chunk
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if strings.TrimSpace(rec.Text) == "" {
			return nil, fmt.Errorf("line %d: chunk has no text", line)
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		chunks = append(chunks, models.Chunk{ID: rec.ID, Text: rec.Text, Metadata: rec.Metadata})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line+1, err)
	}
	return chunks, nil
}

// WriteJSONL writes chunks one per line.
func WriteJSONL(w io.Writer, chunks []models.Chunk) error {
	enc := json.NewEncoder(w)
	for _, c := range chunks {
		if err := enc.Encode(record{ID: c.ID, Text: c.Text, Metadata: c.Metadata}); err != nil {
			return err
		}
	}
	return nil
}

var documents = extract.NewExtractor()

// Load reads path by extension: .jsonl as chunks, anything else as a document
// whose extracted text is cut by splitter. A nil splitter uses the defaults.
func Load(path string, splitter *Splitter) ([]models.Chunk, error) {
	if !strings.EqualFold(filepath.Ext(path), ".jsonl") {
		text, err := documents.Extract(path)
		if err != nil {
			return nil, err
		}
		if splitter == nil {
			splitter = NewSplitter(0, 0)
		}
		return splitter.Split(filepath.Base(path), text), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	chunks, err := ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return chunks, nil
}
