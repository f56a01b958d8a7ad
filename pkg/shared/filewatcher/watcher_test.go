package filewatcher

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
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *recorder) OnFileChange(ev ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func startWatcher(t *testing.T, path string, debounce time.Duration, l ChangeListener) {
	t.Helper()

	w, err := NewWatcher(path, debounce)
	require.NoError(t, err)
	w.AddListener(l)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
	time.Sleep(50 * time.Millisecond)
}

func TestWatcherDebouncesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: {}"), 0o644))

	rec := &recorder{}
	startWatcher(t, path, 100*time.Millisecond, rec)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("server: {port: 3000}"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, rec.count())

	rec.mu.Lock()
	ev := rec.events[0]
	rec.mu.Unlock()
	assert.NoError(t, ev.Error)
	assert.Equal(t, filepath.Base(path), filepath.Base(ev.Path))
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	fired := make(chan struct{}, 1)
	startWatcher(t, path, 20*time.Millisecond, ListenerFunc(func(ChangeEvent) {
		select {
		case fired <- struct{}{}:
		default:
		}
	}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b"), 0o644))

	select {
	case <-fired:
		t.Fatal("change to a sibling file was reported")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	w, err := NewWatcher(path, time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Start(ctx), context.Canceled)
}

func TestNewWatcherMissingDirectory(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "nope", "config.yaml"), time.Millisecond)
	assert.Error(t, err)
}
