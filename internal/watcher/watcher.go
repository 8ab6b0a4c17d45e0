// Package watcher re-ingests knowledge files when they change on disk.
// Events are debounced per file so editors that write in several syscalls
// trigger one re-ingest, not five.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/atelier-ai/chatd/internal/index"
	"github.com/atelier-ai/chatd/internal/knowledge"
)

// debounceDelay is how long a file must stay quiet before re-ingestion.
const debounceDelay = 500 * time.Millisecond

// Watcher keeps the index in sync with a knowledge directory.
type Watcher struct {
	dir string
	ix  *index.Index
	log *slog.Logger

	fw   *fsnotify.Watcher
	done chan struct{}

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New constructs a Watcher over dir. Call Start to begin watching.
func New(dir string, ix *index.Index, log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watcher: watch %s: %w", dir, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		dir:     dir,
		ix:      ix,
		log:     log,
		fw:      fw,
		done:    make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Start launches the event loop. ctx cancellation stops the watcher, as does
// Close.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Close stops the watcher and releases the inotify handles.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher: filesystem error", slog.Any("error", err))
		}
	}
}

// handle routes one filesystem event. Writes and creates are debounced into
// re-ingestion; removes and renames delete the document immediately.
func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !knowledge.Supported(ev.Name) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.cancelPending(ev.Name)
		filename := filepath.Base(ev.Name)
		if w.ix.Remove(ctx, filename) {
			w.log.Info("watcher: document removed", slog.String("filename", filename))
		}
	case ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create):
		w.schedule(ctx, ev.Name)
	}
}

// schedule (re)arms the debounce timer for the path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.reingest(ctx, path)
	})
}

// cancelPending drops a scheduled re-ingest, used when the file is removed
// before its debounce fires.
func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// reingest loads and ingests one file.
func (w *Watcher) reingest(ctx context.Context, path string) {
	doc, ok, err := knowledge.LoadFile(path)
	if err != nil {
		w.log.Warn("watcher: load failed", slog.String("path", path), slog.Any("error", err))
		return
	}
	if !ok {
		return
	}
	if err := w.ix.Ingest(ctx, []index.SourceDocument{doc}); err != nil {
		w.log.Warn("watcher: re-ingest failed", slog.String("path", path), slog.Any("error", err))
		return
	}
	w.log.Info("watcher: document re-ingested", slog.String("filename", doc.Filename))
}
