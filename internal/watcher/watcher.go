// Package watcher keeps collections in step with JSONL drop directories. Every
// <collection>.jsonl file directly inside a watched directory is one collection.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Ext is the drop file extension.
const Ext = ".jsonl"

const defaultDebounce = 500 * time.Millisecond

// Callback receives the collection a drop file belongs to and the file's path.
type Callback func(collectionID, path string)

// Watcher watches drop directories and reports changed and removed drop files.
type Watcher struct {
	dirs     []string
	onChange Callback
	onRemove Callback
	debounce time.Duration
	fsw      *fsnotify.Watcher
	mu       sync.Mutex
	pending  map[string]*time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	logger   *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger. If nil, a no-op logger is used.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a file must be quiet before onChange fires.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over dirs. onChange fires once a drop file has
// stopped changing for the debounce period; onRemove fires when it is removed or
// renamed away. Either may be nil.
func NewWatcher(dirs []string, onChange, onRemove Callback, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		onChange: onChange,
		onRemove: onRemove,
		debounce: defaultDebounce,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
		logger:   zap.NewNop(),
	}
	for _, d := range dirs {
		if abs, err := filepath.Abs(d); err == nil {
			w.dirs = appendUnique(w.dirs, abs)
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CollectionFromPath returns the collection named by a drop file path.
func CollectionFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.EqualFold(filepath.Ext(base), Ext) {
		return "", false
	}
	name := base[:len(base)-len(Ext)]
	if name == "" {
		return "", false
	}
	return name, true
}

// Start begins watching. Missing directories are created. It runs until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	for _, d := range w.dirs {
		if err := w.watchLocked(d); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			w.mu.Unlock()
			return err
		}
	}
	w.started = true
	w.logger.Debug("watcher started", zap.Strings("directories", w.dirs), zap.Duration("debounce", w.debounce))
	w.mu.Unlock()

	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	collection, ok := CollectionFromPath(path)
	if !ok || !w.watched(filepath.Dir(path)) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if w.onRemove != nil {
			w.onRemove(collection, path)
		}
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return
		}
		w.schedule(collection, path)
	}
}

func (w *Watcher) watched(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, d := range w.dirs {
		if d == dir {
			return true
		}
	}
	return false
}

// schedule restarts the file's quiet period.
func (w *Watcher) schedule(collection, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.logger.Debug("drop file changed", zap.String("collection", collection), zap.String("path", path))
		if w.onChange != nil {
			w.onChange(collection, path)
		}
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) watchLocked(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return w.fsw.Add(dir)
}

// AddDirectory starts watching dir. With syncExisting, onChange fires for every
// drop file already in it. Before Start the directory is only recorded.
func (w *Watcher) AddDirectory(dir string, syncExisting bool) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	w.mu.Lock()
	for _, d := range w.dirs {
		if d == abs {
			w.mu.Unlock()
			return nil
		}
	}
	if w.fsw != nil {
		if err := w.watchLocked(abs); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	w.dirs = append(w.dirs, abs)
	started := w.fsw != nil
	w.mu.Unlock()

	w.logger.Debug("watch directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if started && syncExisting {
		go w.syncDirectory(abs)
	}
	return nil
}

// RemoveDirectory stops watching dir. Collections already imported from it are kept.
func (w *Watcher) RemoveDirectory(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, d := range w.dirs {
		if d != abs {
			continue
		}
		if w.fsw != nil {
			_ = w.fsw.Remove(abs)
		}
		w.dirs = append(w.dirs[:i], w.dirs[i+1:]...)
		for path, t := range w.pending {
			if filepath.Dir(path) == abs {
				t.Stop()
				delete(w.pending, path)
			}
		}
		w.logger.Debug("watch directory removed", zap.String("path", abs))
		return nil
	}
	return nil
}

// Directories returns the watched directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.dirs...)
}

// SyncExisting calls onChange for every drop file already present in the watched
// directories.
func (w *Watcher) SyncExisting() {
	for _, d := range w.Directories() {
		w.syncDirectory(d)
	}
}

func (w *Watcher) syncDirectory(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("failed to read watch directory", zap.String("path", dir), zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if collection, ok := CollectionFromPath(path); ok && w.onChange != nil {
			w.onChange(collection, path)
		}
	}
}

// Stop stops watching and drops pending callbacks.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

func appendUnique(dirs []string, dir string) []string {
	for _, d := range dirs {
		if d == dir {
			return dirs
		}
	}
	return append(dirs, dir)
}
