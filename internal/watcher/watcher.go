// Package watcher watches a corpus directory with fsnotify and coalesces bursts
// of file events into a single change notification.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before a change is reported.
const DefaultDebounce = 400 * time.Millisecond

// ErrStarted is returned by Start when the watcher is already running.
var ErrStarted = errors.New("watcher already started")

// Watcher invokes onChange once per settled burst of events under root.
// onChange calls never overlap; events arriving during a call schedule one
// more call after it returns.
type Watcher struct {
	root      string
	recursive bool
	accept    func(path string) bool
	onChange  func(ctx context.Context)
	debounce  time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	trigger chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets the quiet period. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRecursive controls whether subdirectories are watched. Default true.
func WithRecursive(recursive bool) Option {
	return func(w *Watcher) { w.recursive = recursive }
}

// WithFilter limits which file paths count as changes. Removals and renames of
// extensionless paths always count since they may be directories.
func WithFilter(accept func(path string) bool) Option {
	return func(w *Watcher) { w.accept = accept }
}

// New creates a watcher for root.
func New(root string, onChange func(ctx context.Context), opts ...Option) *Watcher {
	w := &Watcher{
		root:      filepath.Clean(root),
		recursive: true,
		onChange:  onChange,
		debounce:  DefaultDebounce,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching, creating root if it does not exist. It returns once
// the initial directories are registered; events are handled until ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return ErrStarted
	}
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addTree(fw, w.root, w.recursive); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw
	w.trigger = make(chan struct{}, 1)
	w.done = make(chan struct{})
	w.stopped = make(chan struct{})
	w.logger.Debug("watcher starting", zap.String("root", w.root), zap.Bool("recursive", w.recursive))

	var wg sync.WaitGroup
	wg.Add(2)
	done, trigger := w.done, w.trigger
	go func() {
		defer wg.Done()
		w.run(ctx, fw, done)
	}()
	go func() {
		defer wg.Done()
		w.notify(ctx, done, trigger)
	}()
	go func(stopped chan struct{}) {
		wg.Wait()
		close(stopped)
	}(w.stopped)
	return nil
}

// addTree registers dir and, when recursive, every non-hidden subdirectory.
func addTree(fw *fsnotify.Watcher, dir string, recursive bool) error {
	if !recursive {
		return fw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && isHidden(path) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			w.halt()
			return
		case <-done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, ev fsnotify.Event) {
	path := ev.Name
	if isHidden(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.recursive {
				if err := addTree(fw, path, true); err != nil {
					w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
				}
			}
			w.schedule()
			return
		}
		if w.accepts(path) {
			w.schedule()
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if w.accepts(path) || filepath.Ext(path) == "" {
			w.schedule()
		}
	}
}

func (w *Watcher) accepts(path string) bool {
	return w.accept == nil || w.accept(path)
}

// schedule restarts the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	trigger := w.trigger
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
}

// Trigger requests an onChange call without waiting for the debounce period.
// It is serialized with event-driven calls like any other, and requests made
// while a call is pending collapse into it. It is a no-op before Start.
func (w *Watcher) Trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Watcher) notify(ctx context.Context, done, trigger <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-trigger:
			w.logger.Debug("watcher change settled", zap.String("root", w.root))
			if w.onChange != nil {
				w.onChange(ctx)
			}
		}
	}
}

// Stop stops watching and waits for an in-flight onChange to return. It must
// not be called from onChange.
func (w *Watcher) Stop() {
	if stopped := w.halt(); stopped != nil {
		<-stopped
	}
}

// halt releases the fsnotify watcher and signals the goroutines to exit.
func (w *Watcher) halt() chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	close(w.done)
	return w.stopped
}

// Done is closed after the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return w.stopped
}
