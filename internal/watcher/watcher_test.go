package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	changed []string
	removed []string
}

func (r *recorder) onChange(collection, _ string) {
	r.mu.Lock()
	r.changed = append(r.changed, collection)
	r.mu.Unlock()
}

func (r *recorder) onRemove(collection, _ string) {
	r.mu.Lock()
	r.removed = append(r.removed, collection)
	r.mu.Unlock()
}

func (r *recorder) snapshot() (changed, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changed...), append([]string(nil), r.removed...)
}

func startWatcher(t *testing.T, dirs []string, rec *recorder) *Watcher {
	t.Helper()
	w := NewWatcher(dirs, rec.onChange, rec.onRemove, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(w.Stop)
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCollectionFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"/drop/docs.jsonl", "docs", true},
		{"/drop/Docs.JSONL", "Docs", true},
		{"/drop/docs.json", "", false},
		{"/drop/.jsonl", "", false},
		{"/drop/.hidden.jsonl", "", false},
		{"/drop/docs.jsonl.tmp", "", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			got, ok := CollectionFromPath(tt.path)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, []string{dir}, rec)

	path := filepath.Join(dir, "docs.jsonl")
	for i := 0; i < 5; i++ {
		writeFile(t, path, `{"id":"1","text":"a"}`+"\n")
	}
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	require.Eventually(t, func() bool {
		changed, _ := rec.snapshot()
		return len(changed) > 0
	}, 3*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	changed, _ := rec.snapshot()
	assert.Equal(t, []string{"docs"}, changed)
}

func TestWatcher_Remove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.jsonl")
	writeFile(t, path, "{}\n")
	rec := &recorder{}
	startWatcher(t, []string{dir}, rec)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, removed := rec.snapshot()
		return len(removed) == 1
	}, 3*time.Second, 20*time.Millisecond)
	_, removed := rec.snapshot()
	assert.Equal(t, []string{"gone"}, removed)
}

func TestWatcher_IgnoresSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0755))
	rec := &recorder{}
	startWatcher(t, []string{dir}, rec)

	writeFile(t, filepath.Join(sub, "deep.jsonl"), "{}\n")
	writeFile(t, filepath.Join(dir, "top.jsonl"), "{}\n")
	require.Eventually(t, func() bool {
		changed, _ := rec.snapshot()
		return len(changed) > 0
	}, 3*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	changed, _ := rec.snapshot()
	assert.Equal(t, []string{"top"}, changed)
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	first := t.TempDir()
	second := filepath.Join(t.TempDir(), "created")
	rec := &recorder{}
	w := startWatcher(t, []string{first}, rec)

	require.NoError(t, w.AddDirectory(second, false))
	assert.DirExists(t, second, "AddDirectory creates the directory")
	require.NoError(t, w.AddDirectory(second, false))
	require.Len(t, w.Directories(), 2)

	writeFile(t, filepath.Join(second, "late.jsonl"), "{}\n")
	require.Eventually(t, func() bool {
		changed, _ := rec.snapshot()
		return len(changed) == 1
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, w.RemoveDirectory(second))
	assert.Equal(t, []string{first}, w.Directories())
}

func TestWatcher_SyncExisting(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.jsonl", "b.jsonl", "c.txt"} {
		writeFile(t, filepath.Join(dir, name), "{}\n")
	}
	rec := &recorder{}
	w := NewWatcher([]string{dir}, rec.onChange, rec.onRemove)
	w.SyncExisting()

	changed, _ := rec.snapshot()
	assert.ElementsMatch(t, []string{"a", "b"}, changed)
}

func TestWatcher_StartCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing", "drop")
	startWatcher(t, []string{dir}, &recorder{})
	assert.DirExists(t, dir)
}
