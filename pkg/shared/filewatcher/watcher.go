// Package filewatcher reports debounced changes to a single file, used by
// `plugingate serve` to reload its config.
package filewatcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent describes a change to the watched file, or a watcher error.
type ChangeEvent struct {
	Path      string
	Timestamp time.Time
	Error     error
}

type ChangeListener interface {
	OnFileChange(event ChangeEvent)
}

// ListenerFunc adapts a function to ChangeListener.
type ListenerFunc func(ChangeEvent)

func (f ListenerFunc) OnFileChange(event ChangeEvent) { f(event) }

// Watcher watches the file's parent directory so editors that replace the
// file by rename are still observed.
type Watcher struct {
	fs       *fsnotify.Watcher
	path     string
	debounce time.Duration

	mu        sync.RWMutex
	listeners []ChangeListener
}

// NewWatcher watches path and coalesces bursts of writes within debounce.
func NewWatcher(path string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("filewatcher: resolve %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filewatcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("filewatcher: watch %s: %w", abs, err)
	}

	return &Watcher{fs: fw, path: abs, debounce: debounce}, nil
}

func (w *Watcher) AddListener(l ChangeListener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

// Start blocks until ctx is done or the watcher is closed.
func (w *Watcher) Start(ctx context.Context) error {
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return errors.New("filewatcher: closed")
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				w.notify(ChangeEvent{Path: w.path, Timestamp: time.Now()})
			})
			timerMu.Unlock()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return errors.New("filewatcher: closed")
			}
			w.notify(ChangeEvent{Path: w.path, Timestamp: time.Now(), Error: err})
		}
	}
}

func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) notify(ev ChangeEvent) {
	w.mu.RLock()
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.RUnlock()

	for _, l := range listeners {
		l.OnFileChange(ev)
	}
}
