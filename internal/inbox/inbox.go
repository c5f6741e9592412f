// Package inbox watches a directory with fsnotify and ingests PDFs dropped into it.
package inbox

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// FileIngester ingests a local file. *ingest.Ingester satisfies it.
type FileIngester interface {
	IngestFile(ctx context.Context, path string) (*models.UploadResponse, error)
}

// Inbox ingests every PDF created or rewritten in one directory.
type Inbox struct {
	dir      string
	debounce time.Duration
	ingester FileIngester
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	timers   map[string]*time.Timer
	ctx      context.Context
	started  bool
	done     chan struct{}
	stopOnce sync.Once
	inflight sync.WaitGroup
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Inbox) { b.logger = utils.Named(l, "inbox") }
}

// WithDebounce overrides the quiet period before a changed file is ingested.
func WithDebounce(d time.Duration) Option {
	return func(b *Inbox) {
		if d > 0 {
			b.debounce = d
		}
	}
}

// New creates an inbox on dir. Nothing is watched until Start.
func New(dir string, ingester FileIngester, opts ...Option) *Inbox {
	b := &Inbox{
		dir:      filepath.Clean(dir),
		debounce: defaultDebounce,
		ingester: ingester,
		logger:   utils.Named(nil, "inbox"),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dir returns the watched directory.
func (b *Inbox) Dir() string { return b.dir }

// Start creates the directory if needed and begins watching it. It runs until
// ctx is cancelled or Stop is called.
func (b *Inbox) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(b.dir); err != nil {
		_ = w.Close()
		return err
	}
	b.watcher = w
	b.ctx = ctx
	b.started = true
	b.logger.Info("watching inbox", zap.String("dir", b.dir), zap.Duration("debounce", b.debounce))
	go b.run(ctx, w)
	return nil
}

func (b *Inbox) run(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			b.Stop()
			return
		case <-b.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			b.handleEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err != nil {
				b.logger.Warn("watch error", zap.Error(err))
			}
		}
	}
}

func (b *Inbox) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if filepath.Dir(path) != b.dir || !IsPDFName(path) {
		return
	}
	b.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		b.schedule(path)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		b.cancel(path)
	}
}

// schedule (re)arms the debounce timer for path.
func (b *Inbox) schedule(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}
	if t, ok := b.timers[path]; ok {
		t.Stop()
	}
	ctx := b.ctx
	b.timers[path] = time.AfterFunc(b.debounce, func() {
		b.mu.Lock()
		delete(b.timers, path)
		if !b.started {
			b.mu.Unlock()
			return
		}
		// Registered under mu so Stop's Wait cannot miss it.
		b.inflight.Add(1)
		b.mu.Unlock()
		b.ingest(ctx, path)
	})
}

func (b *Inbox) cancel(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[path]; ok {
		t.Stop()
		delete(b.timers, path)
	}
}

// ingest runs one debounced file. The caller has already counted it in inflight.
func (b *Inbox) ingest(ctx context.Context, path string) {
	defer b.inflight.Done()
	if ctx.Err() != nil {
		return
	}
	resp, err := b.ingester.IngestFile(ctx, path)
	if err != nil {
		b.logger.Warn("inbox ingest failed", zap.String("path", path), zap.Error(err))
		return
	}
	b.logger.Info("inbox ingested",
		zap.String("path", path),
		zap.String("session_id", resp.SessionID),
		zap.Int("chunks", resp.ChunksCreated),
		zap.Bool("replaced", resp.Replaced))
}

// SyncExisting ingests the PDFs already present in the directory, in name order.
// It returns the number ingested successfully.
func (b *Inbox) SyncExisting(ctx context.Context) int {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		b.logger.Warn("read inbox", zap.String("dir", b.dir), zap.Error(err))
		return 0
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsPDFName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	ok := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		path := filepath.Join(b.dir, name)
		if _, err := b.ingester.IngestFile(ctx, path); err != nil {
			b.logger.Warn("inbox sync failed", zap.String("path", path), zap.Error(err))
			continue
		}
		ok++
	}
	b.logger.Debug("inbox synced", zap.Int("found", len(names)), zap.Int("ingested", ok))
	return ok
}

// Stop stops watching, drops pending debounced files and waits for in-flight ingests.
func (b *Inbox) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	for path, t := range b.timers {
		t.Stop()
		delete(b.timers, path)
	}
	_ = b.watcher.Close()
	b.started = false
	b.mu.Unlock()
	b.stopOnce.Do(func() { close(b.done) })
	b.inflight.Wait()
}

// IsPDFName reports whether name has a .pdf extension, ignoring case.
func IsPDFName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}
