package kvs

import (
	"context"
	"strings"
	"time"
)

// Namespaced lets several stores share one backend. The server keeps
// sessions under "session:", initiation records under "initiation:" and
// rate-limit buckets under "ratelimit:" when they are configured to share a
// backend.
type Namespaced struct {
	base   Store
	prefix string
}

// NewNamespaced wraps base. An empty prefix returns base unchanged.
func NewNamespaced(base Store, prefix string) Store {
	if prefix == "" {
		return base
	}
	return &Namespaced{base: base, prefix: prefix}
}

func (n *Namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	return n.base.Get(ctx, n.prefix+key)
}

func (n *Namespaced) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.base.Set(ctx, n.prefix+key, value, ttl)
}

func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.base.Delete(ctx, n.prefix+key)
}

func (n *Namespaced) Exists(ctx context.Context, key string) (bool, error) {
	return n.base.Exists(ctx, n.prefix+key)
}

// List returns keys with the namespace stripped.
func (n *Namespaced) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := n.base.List(ctx, n.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, n.prefix)
	}
	return keys, nil
}

func (n *Namespaced) Count(ctx context.Context, prefix string) (int, error) {
	return n.base.Count(ctx, n.prefix+prefix)
}

// Close is a no-op. The owner of the shared backend closes it.
func (n *Namespaced) Close() error {
	return nil
}
