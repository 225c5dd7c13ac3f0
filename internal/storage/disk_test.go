package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	index := filepath.Join(dir, "index.bin")
	require.NoError(t, os.WriteFile(index, []byte("vectors"), 0644))

	nested := filepath.Join(dir, "notes", "v1")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes", "chunks.bin"), []byte("abc"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "meta.json"), []byte("{}"), 0644))

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"file", []string{index}, 7},
		{"nested directory", []string{filepath.Join(dir, "notes")}, 5},
		{"whole tree", []string{dir}, 12},
		{"missing and empty skipped", []string{"", filepath.Join(dir, "gone"), index}, 7},
		{"nothing", nil, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
