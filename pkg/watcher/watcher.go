// Package watcher follows a local STEP file and reports when it has been
// saved again, so the terminal client can re-upload it. It uses fsnotify on
// the containing directory and falls back to polling on network filesystems
// or when CADVIEW_FORCE_POLL is set.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vanderheijden86/cadview/pkg/debug"
)

// DefaultPollInterval is the polling interval in fallback mode.
const DefaultPollInterval = 2 * time.Second

// EnvForcePoll forces polling mode.
const EnvForcePoll = "CADVIEW_FORCE_POLL"

var (
	ErrFileRemoved    = errors.New("watched file was removed")
	ErrPermission     = errors.New("permission denied")
	ErrAlreadyStarted = errors.New("watcher already started")
)

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounceDuration sets the quiet period before a change is reported.
func WithDebounceDuration(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithPollInterval sets the polling interval for fallback mode.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		w.pollInterval = d
	}
}

// WithOnChange sets the callback invoked after the file settles.
func WithOnChange(fn func()) Option {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

// WithOnError sets the callback invoked on errors.
func WithOnError(fn func(error)) Option {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// WithForcePoll forces polling even where fsnotify works.
func WithForcePoll(force bool) Option {
	return func(w *Watcher) {
		w.forcePoll = force
	}
}

// fingerprint identifies one saved version of the file.
type fingerprint struct {
	mtime time.Time
	size  int64
}

func stat(path string) (fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fingerprint{}, err
	}
	return fingerprint{mtime: info.ModTime(), size: info.Size()}, nil
}

func (f fingerprint) same(o fingerprint) bool {
	return f.size == o.size && f.mtime.Equal(o.mtime)
}

// Watcher reports saves of one file.
type Watcher struct {
	path         string
	debounce     time.Duration
	pollInterval time.Duration
	onChange     func()
	onError      func(error)
	forcePoll    bool

	mu        sync.RWMutex
	started   bool
	polling   bool
	fsType    FilesystemType
	last      fingerprint
	cancel    context.CancelFunc
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	wg        sync.WaitGroup
	changed   chan struct{}
}

// New returns a watcher for path. It does nothing until Start.
func New(path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:         abs,
		debounce:     DefaultDebounceDuration,
		pollInterval: DefaultPollInterval,
		onChange:     func() {},
		onError:      func(error) {},
		changed:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	w.debouncer = NewDebouncer(w.debounce)
	return w, nil
}

// Start begins watching until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}

	fp, err := stat(w.path)
	if err != nil && os.IsPermission(err) {
		return ErrPermission
	}
	// A file that does not exist yet is fine; its creation is a change.
	w.last = fp

	w.fsType = DetectFilesystemType(w.path)
	w.polling = w.forcePoll || envBool(EnvForcePoll) || isRemoteFilesystem(w.fsType)

	ctx, w.cancel = context.WithCancel(ctx)
	if !w.polling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			// The directory, not the file: editors and exporters replace
			// files by rename.
			err = fsw.Add(filepath.Dir(w.path))
			if err != nil {
				fsw.Close()
			}
		}
		if err != nil {
			debug.Log("watcher: fsnotify unavailable (%v), polling %s", err, w.path)
			w.polling = true
		} else {
			w.fsw = fsw
			w.wg.Add(1)
			go w.runEvents(ctx, fsw)
		}
	}
	if w.polling {
		w.wg.Add(1)
		go w.runPolling(ctx)
	}

	w.started = true
	debug.Log("watcher: watching %s (fs=%s polling=%v)", w.path, w.fsType, w.polling)
	return nil
}

// Stop ends watching and waits for the watch goroutine to exit. Pending
// debounced notifications are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.cancel()
	if w.fsw != nil {
		w.fsw.Close()
		w.fsw = nil
	}
	w.debouncer.Cancel()
	w.mu.Unlock()
	w.wg.Wait()
}

// IsPolling reports whether the watcher polls instead of using fsnotify.
func (w *Watcher) IsPolling() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.polling
}

// IsStarted reports whether the watcher is running.
func (w *Watcher) IsStarted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.started
}

// Changed receives after each settled change. It is never closed.
func (w *Watcher) Changed() <-chan struct{} {
	return w.changed
}

// Path returns the absolute watched path.
func (w *Watcher) Path() string {
	return w.path
}

// FilesystemType returns the classification made at Start.
func (w *Watcher) FilesystemType() FilesystemType {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.fsType
}

// PollInterval returns the polling interval.
func (w *Watcher) PollInterval() time.Duration {
	return w.pollInterval
}

func envBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func (w *Watcher) runEvents(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	target := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			switch {
			case ev.Op&fsnotify.Remove != 0:
				w.onError(ErrFileRemoved)
			case ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				w.debouncer.Trigger(w.settle)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

func (w *Watcher) runPolling(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	w.mu.RLock()
	seen := w.last
	w.mu.RUnlock()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fp, err := stat(w.path)
		if err != nil {
			switch {
			case os.IsNotExist(err):
				w.mu.Lock()
				had := !w.last.mtime.IsZero()
				w.last = fingerprint{}
				w.mu.Unlock()
				seen = fingerprint{}
				if had {
					w.onError(ErrFileRemoved)
				}
			case os.IsPermission(err):
				w.onError(ErrPermission)
			default:
				w.onError(err)
			}
			continue
		}

		// Only a new observation re-arms the debouncer; a file that has
		// stopped changing lets it fire.
		if fp.same(seen) {
			continue
		}
		seen = fp
		w.mu.RLock()
		changed := !fp.same(w.last)
		w.mu.RUnlock()
		if changed {
			w.debouncer.Trigger(w.settle)
		}
	}
}

// settle runs after the quiet period. A change is reported only if the file
// exists and differs from the last reported version, so a rename dance that
// ends with identical content reports nothing.
func (w *Watcher) settle() {
	fp, err := stat(w.path)
	if err != nil {
		return
	}
	w.mu.Lock()
	if !w.started || fp.same(w.last) {
		w.mu.Unlock()
		return
	}
	w.last = fp
	w.mu.Unlock()

	w.onChange()
	select {
	case w.changed <- struct{}{}:
	default:
	}
}
