// Package extract turns document files into plain text so they can be split into
// chunks.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// ErrUnsupported is returned for binary content with no registered format.
var ErrUnsupported = errors.New("unsupported document format")

// Func extracts the text of one document.
type Func func(content []byte) (string, error)

// Extractor maps file extensions to text extractors.
type Extractor struct {
	formats map[string]Func
}

// NewExtractor returns an extractor for plain text, PDF, Office Open XML and
// OpenDocument files.
func NewExtractor() *Extractor {
	e := &Extractor{formats: make(map[string]Func)}
	for _, ext := range []string{".txt", ".text", ".md", ".markdown", ".rst", ".csv", ".log"} {
		e.Register(ext, plainText)
	}
	e.Register(".pdf", pdfText)
	e.Register(".docx", docxText)
	e.Register(".pptx", pptxText)
	e.Register(".xlsx", excelText)
	e.Register(".odt", openDocumentText)
	e.Register(".odp", openDocumentText)
	e.Register(".ods", openDocumentText)
	return e
}

// Register sets the extractor for ext, replacing any existing one.
func (e *Extractor) Register(ext string, fn Func) {
	e.formats[normalizeExt(ext)] = fn
}

// Supported reports whether ext has a registered extractor.
func (e *Extractor) Supported(ext string) bool {
	_, ok := e.formats[normalizeExt(ext)]
	return ok
}

// Extensions returns the registered extensions, sorted.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.formats))
	for ext := range e.formats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads the file at path and returns its text.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	text, err := e.ExtractBytes(content, filepath.Ext(path))
	if err != nil {
		return "", fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return text, nil
}

// ExtractBytes extracts text from content in the format named by ext (with the
// leading dot). Unregistered extensions are read as plain text when content is
// valid UTF-8.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	if fn, ok := e.formats[normalizeExt(ext)]; ok {
		return fn(content)
	}
	if utf8.Valid(content) {
		return string(content), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// plainText replaces invalid UTF-8 sequences with U+FFFD.
func plainText(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\ufffd"), nil
	}
	return string(content), nil
}
