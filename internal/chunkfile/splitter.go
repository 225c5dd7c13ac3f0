package chunkfile

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/kensaku/internal/models"
)

// Metadata keys set on split chunks.
const (
	MetaSourceFile = "source_file"
	MetaStartIndex = "start_index"
)

// Splitter cuts text into windows of whole words, each at most size characters,
// with consecutive windows sharing up to overlap characters.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter returns a splitter. Non-positive sizes fall back to 2000 and an
// overlap that is negative or not below size to a quarter of size.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = 2000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 4
	}
	return &Splitter{size: size, overlap: overlap}
}

type span struct{ start, end int }

// Split cuts text into chunks with ids "<source>#<n>". Each chunk records the
// source and the character offset it starts at. A single word longer than size
// becomes its own chunk.
func (s *Splitter) Split(source, text string) []models.Chunk {
	words := wordSpans(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []models.Chunk
	for i := 0; i < len(words); {
		j := i
		for j+1 < len(words) && charLen(text, words[i].start, words[j+1].end) <= s.size {
			j++
		}
		start := words[i].start
		chunks = append(chunks, models.Chunk{
			ID:   fmt.Sprintf("%s#%d", source, len(chunks)),
			Text: text[start:words[j].end],
			Metadata: map[string]interface{}{
				MetaSourceFile: source,
				MetaStartIndex: utf8.RuneCountInString(text[:start]),
			},
		})
		if j == len(words)-1 {
			break
		}
		// Step back to the earliest word that keeps the shared tail within overlap.
		next := j + 1
		for k := i + 1; k <= j; k++ {
			if charLen(text, words[k].start, words[j].end) <= s.overlap {
				next = k
				break
			}
		}
		i = next
	}
	return chunks
}

func wordSpans(text string) []span {
	var spans []span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, span{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, span{start, len(text)})
	}
	return spans
}

func charLen(text string, start, end int) int {
	return utf8.RuneCountInString(text[start:end])
}
