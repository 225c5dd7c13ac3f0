package chunkfile

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kensaku/internal/models"
)

func TestReadJSONL(t *testing.T) {
	in := `{"id":"a","text":"first chunk","metadata":{"page":1}}

{"text":"no id here"}
   
{"id":"c","text":"third"}
`
	chunks, err := ReadJSONL(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "a", chunks[0].ID)
	assert.Equal(t, float64(1), chunks[0].Metadata["page"])
	_, err = uuid.Parse(chunks[1].ID)
	assert.NoError(t, err, "missing ids get a uuid")
	assert.Equal(t, "no id here", chunks[1].Text)
	assert.Equal(t, "c", chunks[2].ID)
}

func TestReadJSONL_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		line string
	}{
		{"malformed", "{\"id\":\"a\",\"text\":\"ok\"}\n{not json}\n", "line 2"},
		{"empty text", "\n{\"id\":\"a\",\"text\":\"  \"}\n", "line 2"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadJSONL(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.line)
		})
	}
}

func TestReadJSONL_Empty(t *testing.T) {
	chunks, err := ReadJSONL(strings.NewReader("\n\n"))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestWriteJSONL_ReadBack(t *testing.T) {
	in := []models.Chunk{
		{ID: "1", Text: "one", Metadata: map[string]interface{}{"k": "v"}},
		{ID: "2", Text: "two\nlines"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, in))
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	out, err := ReadJSONL(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	jsonl := filepath.Join(dir, "docs.jsonl")
	require.NoError(t, os.WriteFile(jsonl, []byte(`{"id":"x","text":"hello"}`+"\n"), 0644))
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("aa bb cc dd ee"), 0644))

	chunks, err := Load(jsonl, NewSplitter(10, 4))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "x", chunks[0].ID)

	chunks, err = Load(txt, NewSplitter(10, 4))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "notes.txt#0", chunks[0].ID)
	assert.Equal(t, "notes.txt", chunks[0].Metadata[MetaSourceFile])

	_, err = Load(filepath.Join(dir, "missing.jsonl"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_Document(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<w:document xmlns:w="w"><w:body>` +
		`<w:p><w:r><w:t>Glaciers carve valleys.</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Moraines mark their edges.</w:t></w:r></w:p>` +
		`</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "ice.docx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	chunks, err := Load(path, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "ice.docx#0", chunks[0].ID)
	assert.Equal(t, "Glaciers carve valleys.\nMoraines mark their edges.", chunks[0].Text)
}

func TestLoad_UnsupportedBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x81}, 0644))
	_, err := Load(path, nil)
	assert.Error(t, err)
}
