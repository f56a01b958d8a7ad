// Package kvs is the key-value layer behind sessions, initiation records,
// rate-limit buckets and the plugin credential cache.
//
// Three backends implement Store: an in-process map (the default for the
// backend service), LevelDB on disk (used by the CLI to keep credentials across
// runs) and Redis.
package kvs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is a goroutine-safe key-value store with optional per-key TTL.
type Store interface {
	// Get returns ErrNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value. A ttl of zero or less never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	// List returns live keys starting with prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)

	Count(ctx context.Context, prefix string) (int, error)

	// Close releases resources. Later calls return ErrClosed.
	Close() error
}

var (
	// ErrNotFound is returned when a key is absent or has expired.
	ErrNotFound = errors.New("kvs: key not found")

	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("kvs: store is closed")
)

// Config selects and configures a backend.
type Config struct {
	// Type is "memory" (default), "leveldb" or "redis".
	Type string `yaml:"type" json:"type"`

	// Namespace isolates keys: a key prefix for memory and Redis, a
	// directory suffix for LevelDB.
	Namespace string `yaml:"namespace" json:"namespace"`

	Memory  MemoryConfig  `yaml:"memory" json:"memory"`
	LevelDB LevelDBConfig `yaml:"leveldb" json:"leveldb"`
	Redis   RedisConfig   `yaml:"redis" json:"redis"`
}

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	// CleanupInterval is how often expired keys are purged. Default 5m.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// LevelDBConfig configures the on-disk backend.
type LevelDBConfig struct {
	// Path of the database directory. Empty means a directory under the
	// user cache dir named after the namespace.
	Path string `yaml:"path" json:"path"`

	SyncWrites bool `yaml:"sync_writes" json:"sync_writes"`

	// Private restricts the database directory, and any parent it has to
	// create, to the current user (0700) and its files to 0600.
	Private bool `yaml:"private" json:"private"`

	// CleanupInterval is how often expired keys are purged. Default 5m.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

// New opens the backend named by cfg.Type.
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryStore(cfg.Namespace, cfg.Memory)
	case "leveldb":
		return NewLevelDBStore(cfg.Namespace, cfg.LevelDB)
	case "redis":
		return NewRedisStore(cfg.Namespace, cfg.Redis)
	default:
		return nil, fmt.Errorf("kvs: unsupported store type %q", cfg.Type)
	}
}

const defaultCleanupInterval = 5 * time.Minute

// expired reports whether an entry with the given deadline is dead at now.
// A zero deadline never expires.
func expired(deadline, now time.Time) bool {
	return !deadline.IsZero() && now.After(deadline)
}

func deadline(ttl time.Duration, now time.Time) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
