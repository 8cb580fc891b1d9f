package rag

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/hmochat-go/internal/corpus"
)

// DefaultDebounce is the quiet period a Watcher waits after the last corpus
// file event before reloading.
const DefaultDebounce = 500 * time.Millisecond

// DirLoader reloads a Holder from a corpus directory.
type DirLoader struct {
	Holder *Holder
	Dir    string
}

// Reload loads Dir into a fresh Index and publishes it. It returns the
// number of records now served. On failure the previous index stays live.
func (d *DirLoader) Reload(ctx context.Context) (int, error) {
	ix, err := d.Holder.Reload(ctx, func(context.Context) (*Index, error) {
		return LoadIndex(d.Dir)
	})
	if err != nil {
		return 0, fmt.Errorf("rag: reload %s: %w", d.Dir, err)
	}
	return ix.Len(), nil
}

// Watcher reloads a DirLoader whenever the corpus metadata or vector file in
// its directory is created or rewritten. Bursts of events (an embed run
// writes both files) collapse into one reload.
type Watcher struct {
	loader   *DirLoader
	debounce time.Duration
	log      *slog.Logger
	fs       *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer

	// reloaded receives the outcome of each reload; used by tests.
	reloaded func(n int, err error)
}

// NewWatcher starts watching loader.Dir. debounce <= 0 means DefaultDebounce.
func NewWatcher(loader *DirLoader, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	if loader == nil || loader.Holder == nil {
		return nil, fmt.Errorf("rag: watcher needs a holder")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rag: create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(loader.Dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("rag: watch %s: %w", loader.Dir, err)
	}
	return &Watcher{loader: loader, debounce: debounce, log: log, fs: fsw}, nil
}

// Run processes file events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return fmt.Errorf("rag: watcher events channel closed")
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !isCorpusFile(ev.Name) {
				continue
			}
			w.schedule(ctx)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return fmt.Errorf("rag: watcher errors channel closed")
			}
			w.log.Warn("corpus watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		n, err := w.loader.Reload(ctx)
		if err != nil {
			w.log.Error("corpus reload failed, keeping previous index",
				slog.String("dir", w.loader.Dir),
				slog.Any("error", err),
			)
		} else {
			w.log.Info("corpus reloaded",
				slog.String("dir", w.loader.Dir),
				slog.Int("records", n),
			)
		}
		if w.reloaded != nil {
			w.reloaded(n, err)
		}
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	_ = w.fs.Close()
}

func isCorpusFile(path string) bool {
	switch filepath.Base(path) {
	case corpus.MetadataFile, corpus.VectorsFile:
		return true
	}
	return false
}
