package kvs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore persists entries on disk. Each value is stored with an 8-byte
// big-endian expiry (unix nanoseconds, 0 for none) in front of it.
type LevelDBStore struct {
	prefix string
	db     *leveldb.DB
	write  *opt.WriteOptions

	mu     sync.RWMutex
	closed bool

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewLevelDBStore opens (or creates) the database described by cfg.
func NewLevelDBStore(prefix string, cfg LevelDBConfig) (*LevelDBStore, error) {
	path := cfg.Path
	if path == "" {
		path = defaultLevelDBPath(prefix)
	}
	if cfg.Private {
		if err := privateDir(path); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("kvs/leveldb: create directory: %w", err)
	}

	db, err := leveldb.OpenFile(path, &opt.Options{Compression: opt.SnappyCompression})
	var corrupted *lerrors.ErrCorrupted
	if errors.As(err, &corrupted) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("kvs/leveldb: open %s: %w", path, err)
	}
	if cfg.Private {
		// goleveldb creates its files 0644.
		if err := privateFiles(path); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}

	l := &LevelDBStore{
		prefix:   prefix,
		db:       db,
		write:    &opt.WriteOptions{Sync: cfg.SyncWrites},
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.purgeLoop()
	return l, nil
}

// privateDir creates path and missing parents as 0700 and tightens path
// itself when it already exists.
func privateDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("kvs/leveldb: create directory: %w", err)
	}
	if err := os.Chmod(path, 0o700); err != nil {
		return fmt.Errorf("kvs/leveldb: restrict directory: %w", err)
	}
	return nil
}

func privateFiles(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("kvs/leveldb: list directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Chmod(filepath.Join(path, e.Name()), 0o600); err != nil {
			return fmt.Errorf("kvs/leveldb: restrict %s: %w", e.Name(), err)
		}
	}
	return nil
}

func defaultLevelDBPath(prefix string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	name := "plugingate"
	if prefix != "" {
		name += "-" + strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
				return r
			}
			return '-'
		}, prefix)
	}
	return filepath.Join(dir, name)
}

func (l *LevelDBStore) key(k string) []byte {
	return []byte(l.prefix + k)
}

func encodeEntry(value []byte, ttl time.Duration) []byte {
	var exp int64
	if d := deadline(ttl, time.Now()); !d.IsZero() {
		exp = d.UnixNano()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf, uint64(exp))
	copy(buf[8:], value)
	return buf
}

// decodeEntry returns the payload and whether it has expired.
func decodeEntry(raw []byte, now time.Time) ([]byte, bool, error) {
	if len(raw) < 8 {
		return nil, false, errors.New("kvs/leveldb: malformed entry")
	}
	exp := int64(binary.BigEndian.Uint64(raw))
	if exp > 0 && now.UnixNano() > exp {
		return nil, true, nil
	}
	return raw[8:], false, nil
}

func (l *LevelDBStore) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

func (l *LevelDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	if l.isClosed() {
		return nil, ErrClosed
	}
	raw, err := l.db.Get(l.key(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvs/leveldb: get: %w", err)
	}
	value, dead, err := decodeEntry(raw, time.Now())
	if err != nil {
		return nil, err
	}
	if dead {
		_ = l.db.Delete(l.key(key), l.write)
		return nil, ErrNotFound
	}
	return value, nil
}

func (l *LevelDBStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if l.isClosed() {
		return ErrClosed
	}
	if err := l.db.Put(l.key(key), encodeEntry(value, ttl), l.write); err != nil {
		return fmt.Errorf("kvs/leveldb: set: %w", err)
	}
	return nil
}

func (l *LevelDBStore) Delete(ctx context.Context, key string) error {
	if l.isClosed() {
		return ErrClosed
	}
	if err := l.db.Delete(l.key(key), l.write); err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return fmt.Errorf("kvs/leveldb: delete: %w", err)
	}
	return nil
}

func (l *LevelDBStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := l.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (l *LevelDBStore) List(ctx context.Context, prefix string) ([]string, error) {
	if l.isClosed() {
		return nil, ErrClosed
	}

	iter := l.db.NewIterator(util.BytesPrefix(l.key(prefix)), nil)
	defer iter.Release()

	now := time.Now()
	var keys []string
	for iter.Next() {
		if _, dead, err := decodeEntry(iter.Value(), now); err != nil || dead {
			continue
		}
		keys = append(keys, strings.TrimPrefix(string(iter.Key()), l.prefix))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("kvs/leveldb: list: %w", err)
	}
	return keys, nil
}

func (l *LevelDBStore) Count(ctx context.Context, prefix string) (int, error) {
	keys, err := l.List(ctx, prefix)
	return len(keys), err
}

// Close stops the purge goroutine and closes the database.
func (l *LevelDBStore) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stop)
	<-l.done

	if err := l.db.Close(); err != nil {
		return fmt.Errorf("kvs/leveldb: close: %w", err)
	}
	return nil
}

func (l *LevelDBStore) purgeLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.purge()
		case <-l.stop:
			return
		}
	}
}

func (l *LevelDBStore) purge() {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(l.prefix)), nil)
	defer iter.Release()

	now := time.Now()
	batch := new(leveldb.Batch)
	for iter.Next() {
		if _, dead, err := decodeEntry(iter.Value(), now); err == nil && dead {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	if batch.Len() > 0 {
		_ = l.db.Write(batch, l.write)
	}
}
