// internal/watch/watcher.go
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"cfgsync/internal/engine"
	"cfgsync/internal/patchset"
	"cfgsync/internal/tree"
	"cfgsync/internal/version"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type Options struct {
	Engine engine.Options
	Format patchset.Format
	// Debounce waits for writes to settle before reading the file.
	Debounce time.Duration
	Logger   *zap.Logger
	// With EnforceACL, edits User may not make under the rules of the
	// previous revision are left out of the patch and the baseline.
	User       string
	EnforceACL bool
}

// Watcher turns each saved revision of a document file into a patch
// against the previous one.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	engine   *engine.Engine
	format   patchset.Format
	debounce time.Duration
	patches  chan patchset.Patchset
	user     string
	enforce  bool
	logger   *zap.Logger

	mu   sync.Mutex
	last *tree.Document
}

// New loads path as the baseline and starts watching it. The directory is
// watched rather than the file so editors that save by rename are seen.
func New(path string, opts Options) (*Watcher, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Debounce == 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	opts.Engine.Logger = opts.Logger

	last, err := tree.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading baseline: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		watcher:  watcher,
		engine:   engine.New(opts.Engine),
		format:   opts.Format,
		debounce: opts.Debounce,
		patches:  make(chan patchset.Patchset, 16),
		user:     opts.User,
		enforce:  opts.EnforceACL,
		logger:   opts.Logger.With(zap.String("file", path)),
		last:     last,
	}, nil
}

// Patches delivers one patch per changed revision. It is closed when Run
// returns.
func (w *Watcher) Patches() <-chan patchset.Patchset {
	return w.patches
}

// Run processes filesystem events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.patches)

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
		case <-timer.C:
			p, err := w.Reload()
			if err != nil {
				w.logger.Warn("skipping revision", zap.Error(err))
				continue
			}
			if p == nil {
				continue
			}
			select {
			case w.patches <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Reload reads the file and returns the patch from the previous revision,
// or nil when nothing changed. A revision that does not raise the version
// inherits the previous one, so the patch carries a bumped version either
// way.
func (w *Watcher) Reload() (patchset.Patchset, error) {
	cur, err := tree.LoadFile(w.path)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	prev := version.FromNode(w.last.Root(), 0)
	if version.FromNode(cur.Root(), 0).Compare(prev) <= 0 {
		attrs := prev.Attrs()
		for i := 0; i < len(attrs); i += 2 {
			cur.Root().SetAttrUntracked(attrs[i], attrs[i+1])
		}
	}

	if w.enforce {
		if err := w.engine.BeginTracking(cur, w.user, w.last.Root(), true); err != nil {
			return nil, err
		}
	}
	p, err := w.engine.GeneratePatch(w.last, cur, w.format, true)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	cur.AcceptChanges()
	cur.StopTracking()
	w.last = cur
	w.logger.Info("new revision", zap.String("patch", patchset.Summary(p)))
	return p, nil
}

// Current returns a copy of the latest accepted revision.
func (w *Watcher) Current() *tree.Document {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.Clone()
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
