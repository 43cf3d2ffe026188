// Package fswatch exposes files as providers. A file provider caches the
// file's contents and invalidates automatically when the file changes on
// disk, so anything watching it recomputes with the fresh bytes. It is the
// standard way to feed configuration or asset files into a provider graph
// during development.
package fswatch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	currenterrors "github.com/go-drift/current/pkg/errors"
	"github.com/go-drift/current/pkg/provider"
)

const defaultDebounce = 50 * time.Millisecond

// Option configures a Watcher.
type Option func(*config)

type config struct {
	debounce time.Duration
}

// WithDebounce sets how long the watcher collects file events before
// invalidating, so editor save sequences trigger one recomputation instead
// of several. The default is 50ms.
func WithDebounce(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// Watcher turns file system events into provider invalidations. It owns one
// fsnotify watcher and a goroutine that forwards events; both are torn down
// when the bound scope is disposed or Close is called.
type Watcher struct {
	scope    *provider.Scope
	fsw      *fsnotify.Watcher
	family   *provider.AsyncFamily[string, []byte]
	debounce time.Duration

	mu     sync.Mutex
	files  map[string]struct{}
	closed bool

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher whose file providers are invalidated through scope.
// The watcher closes itself when the scope is disposed.
func New(scope *provider.Scope, opts ...Option) (*Watcher, error) {
	if scope == nil || scope.Disposed() {
		return nil, fmt.Errorf("fswatch: scope is nil or disposed")
	}
	cfg := config{debounce: defaultDebounce}
	for _, opt := range opts {
		opt(&cfg)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fswatch: %w", err)
	}

	w := &Watcher{
		scope:    scope,
		fsw:      fsw,
		debounce: cfg.debounce,
		files:    map[string]struct{}{},
		done:     make(chan struct{}),
	}
	// One family per watcher: each registered path memoizes one provider,
	// and content-equal rewrites do not notify dependents.
	w.family = provider.NewAsyncFamily("fswatch.file",
		func(ctx context.Context, r *provider.Ref, path string) ([]byte, error) {
			return os.ReadFile(path)
		},
		provider.WithEquality(func(a, b []byte) bool { return bytes.Equal(a, b) }),
	)

	scope.OnDispose(func() { w.Close() })
	go w.loop()
	return w, nil
}

// File registers path and returns its provider. The provider's value is the
// file's contents; a read failure surfaces as the async error arm, and the
// provider recovers on the next change event once reading succeeds again.
// Calling File twice with the same path returns the same provider.
//
// The file itself need not exist yet, but its directory must: changes are
// detected by watching the parent directory, which keeps working across the
// delete-and-rename cycles editors use for atomic saves.
func (w *Watcher) File(path string) (provider.AsyncProvider[[]byte], error) {
	var zero provider.AsyncProvider[[]byte]
	abs, err := filepath.Abs(path)
	if err != nil {
		return zero, fmt.Errorf("fswatch: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return zero, fmt.Errorf("fswatch: watcher is closed")
	}
	if _, ok := w.files[abs]; !ok {
		if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
			return zero, fmt.Errorf("fswatch: watch %s: %w", filepath.Dir(abs), err)
		}
		w.files[abs] = struct{}{}
	}
	return w.family.For(abs), nil
}

// Files returns the registered paths in sorted order.
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for p := range w.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Close stops the watcher. Registered providers keep their last value but
// no longer invalidate. Close is idempotent.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

// loop collects file events and flushes them as one invalidation batch per
// debounce window.
func (w *Watcher) loop() {
	pending := map[string]struct{}{}
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) > 0 {
			w.invalidate(pending)
			pending = map[string]struct{}{}
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			abs := filepath.Clean(ev.Name)
			if !w.registered(abs) {
				continue
			}
			pending[abs] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			currenterrors.Report(&currenterrors.StateError{
				Op:   "fswatch.watch",
				Kind: currenterrors.KindUnknown,
				Err:  err,
			})
		}
	}
}

func (w *Watcher) registered(abs string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[abs]
	return ok
}

// invalidate recomputes every pending file provider in a single batch.
func (w *Watcher) invalidate(paths map[string]struct{}) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed || w.scope.Disposed() {
		return
	}
	w.scope.Batch(func() {
		for p := range paths {
			w.scope.Invalidate(w.family.For(p))
		}
	})
}
