package kvs

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value    []byte
	deadline time.Time
}

// MemoryStore keeps entries in a map and purges expired ones on a ticker.
// Contents are lost when the process exits.
type MemoryStore struct {
	prefix  string
	mu      sync.RWMutex
	entries map[string]memoryEntry
	closed  bool
	now     func() time.Time

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewMemoryStore creates a MemoryStore whose keys are prefixed with prefix.
func NewMemoryStore(prefix string, cfg MemoryConfig) (*MemoryStore, error) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}

	m := &MemoryStore{
		prefix:   prefix,
		entries:  make(map[string]memoryEntry),
		now:      time.Now,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.purgeLoop()
	return m, nil
}

func (m *MemoryStore) key(k string) string {
	return m.prefix + k
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	e, ok := m.entries[m.key(key)]
	if !ok || expired(e.deadline, m.now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.entries[m.key(key)] = memoryEntry{
		value:    append([]byte(nil), value...),
		deadline: deadline(ttl, m.now()),
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.entries, m.key(key))
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Get(ctx, key)
	switch err {
	case nil:
		return true, nil
	case ErrNotFound:
		return false, nil
	default:
		return false, err
	}
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	full := m.key(prefix)
	now := m.now()
	var keys []string
	for k, e := range m.entries {
		if !strings.HasPrefix(k, full) || expired(e.deadline, now) {
			continue
		}
		keys = append(keys, strings.TrimPrefix(k, m.prefix))
	}
	return keys, nil
}

func (m *MemoryStore) Count(ctx context.Context, prefix string) (int, error) {
	keys, err := m.List(ctx, prefix)
	return len(keys), err
}

// Close stops the purge goroutine and drops every entry.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	m.entries = nil
	m.mu.Unlock()

	close(m.stop)
	<-m.done
	return nil
}

func (m *MemoryStore) purgeLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.purge()
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryStore) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	now := m.now()
	for k, e := range m.entries {
		if expired(e.deadline, now) {
			delete(m.entries, k)
		}
	}
}
