package session

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ideamans/plugingate/pkg/shared/kvs"
	"github.com/ideamans/plugingate/pkg/shared/logging"
)

const (
	DefaultTTL             = 24 * time.Hour
	DefaultCleanupInterval = time.Hour
)

// Config controls expiry.
type Config struct {
	// TTL is measured from Session.CreatedAt. Default 24h.
	TTL time.Duration

	// CleanupInterval is the period of the background sweep. Default 1h.
	// A negative value disables the sweep.
	CleanupInterval time.Duration
}

// Store owns every Session. Expiry is decided here from CreatedAt rather
// than by backend TTLs, so an expired entry is reported as expired exactly
// once before it disappears. Backend entries carry a TTL of twice the
// session TTL so they are eventually dropped even without a sweep.
type Store struct {
	kvs    kvs.Store
	ttl    time.Duration
	logger logging.Logger
	now    func() time.Time

	// mu is held for writing by eviction, write-once and scans. Reads of
	// live entries share it.
	mu sync.RWMutex

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewStore wraps backend and starts the sweep goroutine. The caller keeps
// ownership of backend; Close only stops the sweep.
func NewStore(backend kvs.Store, cfg Config, logger logging.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	s := &Store{
		kvs:    backend,
		ttl:    cfg.TTL,
		logger: logger.WithModule("session"),
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go s.sweepLoop(cfg.CleanupInterval)
	} else {
		close(s.done)
	}
	return s
}

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Put stores sess under id. It fails with ErrSessionExists if a live entry
// already has that id; an expired one is replaced.
func (s *Store) Put(ctx context.Context, id string, sess *Session) error {
	if id == "" {
		return errors.New("session: empty id")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(ctx, id)
	switch {
	case err == nil && !existing.ExpiredAt(s.now(), s.ttl):
		return ErrSessionExists
	case err != nil && !errors.Is(err, ErrSessionNotFound):
		return err
	}

	if err := s.kvs.Set(ctx, id, data, 2*s.ttl); err != nil {
		return fmt.Errorf("session: store: %w", err)
	}
	return nil
}

// Get returns the session for id. An entry older than the TTL is deleted
// and reported as ErrSessionExpired.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, err := s.load(ctx, id)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !sess.ExpiredAt(s.now(), s.ttl) {
		return sess, nil
	}
	return s.evict(ctx, id)
}

// evict deletes id if it is still expired under the write lock. A
// concurrent reader that evicted it first leaves ErrSessionNotFound, and a
// concurrent Put leaves the new session.
func (s *Store) evict(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.ExpiredAt(s.now(), s.ttl) {
		if err := s.kvs.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("session: evict: %w", err)
		}
		s.logger.Debug("Session expired on read", "session", logging.Mask(id))
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Delete removes id. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kvs.Delete(ctx, id); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// DeleteByToken removes every session whose bearer token equals token and
// returns how many were removed. It scans all entries.
func (s *Store) DeleteByToken(ctx context.Context, token string) (int, error) {
	if token == "" {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	err := s.scan(ctx, func(id string, sess *Session) error {
		if subtle.ConstantTimeCompare([]byte(sess.Token), []byte(token)) != 1 {
			return nil
		}
		if err := s.kvs.Delete(ctx, id); err != nil {
			return fmt.Errorf("session: delete: %w", err)
		}
		removed++
		return nil
	})
	return removed, err
}

// SweepExpired evicts every expired entry and returns how many were removed.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	err := s.scan(ctx, func(id string, sess *Session) error {
		if !sess.ExpiredAt(now, s.ttl) {
			return nil
		}
		if err := s.kvs.Delete(ctx, id); err != nil {
			return fmt.Errorf("session: delete: %w", err)
		}
		removed++
		return nil
	})
	return removed, err
}

// Count returns the number of stored entries, expired ones not yet evicted
// included.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.kvs.Count(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("session: count: %w", err)
	}
	return n, nil
}

// Close stops the sweep goroutine and waits for it to exit.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *Store) load(ctx context.Context, id string) (*Session, error) {
	data, err := s.kvs.Get(ctx, id)
	if errors.Is(err, kvs.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", logging.Mask(id), err)
	}
	return &sess, nil
}

// scan calls fn for every decodable entry. Entries that fail to decode are
// dropped. Callers hold mu.
func (s *Store) scan(ctx context.Context, fn func(id string, sess *Session) error) error {
	ids, err := s.kvs.List(ctx, "")
	if err != nil {
		return fmt.Errorf("session: list: %w", err)
	}
	for _, id := range ids {
		sess, err := s.load(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn("Dropping unreadable session", "session", logging.Mask(id), "error", err)
			_ = s.kvs.Delete(ctx, id)
			continue
		}
		if err := fn(id, sess); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.SweepExpired(context.Background())
			if err != nil {
				s.logger.Error("Session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("Swept expired sessions", "count", n)
			}
		case <-s.stop:
			return
		}
	}
}
