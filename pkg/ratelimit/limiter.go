// Package ratelimit limits how often one client may start a login and how
// often one login may be polled.
//
// Buckets live in a kvs.Store so several server replicas can share them
// through Redis. Each bucket expires from the store once it would be full
// again, so no cleanup pass is needed.
package ratelimit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ideamans/plugingate/pkg/shared/kvs"
	"github.com/ideamans/plugingate/pkg/shared/logging"
)

// storeTimeout bounds each store round trip made on the request path.
const storeTimeout = 100 * time.Millisecond

// Limiter is a token bucket rate limiter keyed by an arbitrary string.
type Limiter struct {
	store    kvs.Store
	rate     int // tokens per interval
	interval time.Duration
	logger   logging.Logger

	mu  sync.Mutex
	now func() time.Time
}

type bucket struct {
	Tokens     int       `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

// NewLimiter allows rate requests per interval for each key.
func NewLimiter(rate int, interval time.Duration, store kvs.Store, logger logging.Logger) *Limiter {
	return &Limiter{
		store:    store,
		rate:     rate,
		interval: interval,
		logger:   logger.WithModule("ratelimit"),
		now:      time.Now,
	}
}

// Allow consumes a token for key. Store failures allow the request.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l.rate <= 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.load(ctx, key)
	if !ok {
		b = bucket{Tokens: l.rate, LastRefill: now}
	} else if elapsed := now.Sub(b.LastRefill); elapsed >= l.interval {
		b.Tokens = l.rate
		b.LastRefill = b.LastRefill.Add(elapsed.Truncate(l.interval))
	}

	if b.Tokens <= 0 {
		return false
	}
	b.Tokens--
	l.save(ctx, key, b)
	return true
}

// Reset forgets key's bucket.
func (l *Limiter) Reset(ctx context.Context, key string) {
	if err := l.store.Delete(ctx, key); err != nil {
		l.logger.Warn("Failed to reset rate limit bucket", "error", err)
	}
}

func (l *Limiter) load(ctx context.Context, key string) (bucket, bool) {
	var b bucket
	data, err := l.store.Get(ctx, key)
	if err != nil {
		return b, false
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, false
	}
	return b, true
}

func (l *Limiter) save(ctx context.Context, key string, b bucket) {
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	// A bucket untouched for a full interval is indistinguishable from a new one.
	ttl := b.LastRefill.Add(l.interval).Sub(l.now()) + l.interval
	if err := l.store.Set(ctx, key, data, ttl); err != nil {
		l.logger.Warn("Failed to store rate limit bucket", "error", err)
	}
}

// KeyFunc picks the bucket a request counts against.
type KeyFunc func(r *http.Request) string

// ByClientIP keys on the client address. Proxy headers are only read when
// trustProxy is set.
func ByClientIP(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		return "ip:" + ClientIP(r, trustProxy)
	}
}

// ByQuery keys on a query parameter, so clients sharing an address do not
// share a bucket. Requests without it fall back.
func ByQuery(param string, fallback KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		if v := r.URL.Query().Get(param); v != "" {
			return param + ":" + v
		}
		return fallback(r)
	}
}

// Middleware rejects requests over the limit with the given handler. The
// bucket key is scope plus key(r).
func (l *Limiter) Middleware(scope string, key KeyFunc, limited http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(r.Context(), scope+":"+key(r)) {
				l.logger.Debug("Rate limit exceeded", "scope", scope)
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the connection's remote address. With trustProxy it
// prefers the first X-Forwarded-For hop, then X-Real-IP.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
