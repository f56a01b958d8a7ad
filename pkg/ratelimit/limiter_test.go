package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideamans/plugingate/pkg/shared/kvs"
	"github.com/ideamans/plugingate/pkg/shared/logging"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, rate int, interval time.Duration) (*Limiter, *clock) {
	t.Helper()
	store, err := kvs.NewMemoryStore("", kvs.MemoryConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(rate, interval, store, logging.NewTestLogger())
	l.now = c.now
	return l, c
}

func TestLimiter_Allow(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(ctx, "key"), "request %d should be allowed", i+1)
	}
	assert.False(t, l.Allow(ctx, "key"), "4th request should be blocked")
}

func TestLimiter_Refill(t *testing.T) {
	l, c := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "key"))
	assert.True(t, l.Allow(ctx, "key"))
	assert.False(t, l.Allow(ctx, "key"))

	c.advance(59 * time.Second)
	assert.False(t, l.Allow(ctx, "key"), "no refill before the interval ends")

	c.advance(time.Second)
	assert.True(t, l.Allow(ctx, "key"))
	assert.True(t, l.Allow(ctx, "key"))
	assert.False(t, l.Allow(ctx, "key"))
}

func TestLimiter_MultipleKeys(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "key1"))
	assert.True(t, l.Allow(ctx, "key2"))
	assert.False(t, l.Allow(ctx, "key1"))
	assert.False(t, l.Allow(ctx, "key2"))
}

func TestLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "key"))
	assert.False(t, l.Allow(ctx, "key"))
	l.Reset(ctx, "key")
	assert.True(t, l.Allow(ctx, "key"))
}

func TestLimiter_ZeroRate(t *testing.T) {
	l, _ := newTestLimiter(t, 0, time.Minute)
	assert.False(t, l.Allow(context.Background(), "key"))
}

func TestLimiter_ClosedStoreAllows(t *testing.T) {
	store, err := kvs.NewMemoryStore("", kvs.MemoryConfig{})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	l := NewLimiter(1, time.Minute, store, logging.NewTestLogger())
	assert.True(t, l.Allow(context.Background(), "key"))
	assert.True(t, l.Allow(context.Background(), "key"))
}

func TestLimiter_SharedThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	open := func() *Limiter {
		store, err := kvs.NewRedisStore("ratelimit", kvs.RedisConfig{Addr: mr.Addr()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return NewLimiter(2, time.Minute, store, logging.NewTestLogger())
	}
	a, b := open(), open()
	ctx := context.Background()

	assert.True(t, a.Allow(ctx, "client"))
	assert.True(t, b.Allow(ctx, "client"))
	assert.False(t, a.Allow(ctx, "client"))
	assert.False(t, b.Allow(ctx, "client"))
	assert.True(t, mr.Exists("ratelimit:client"))
}

func TestMiddleware(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)

	limited := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	h := l.Middleware("auth", ByClientIP(false), limited)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/session-status", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:5001"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2:5000"))
}

func TestMiddleware_ByQuery(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)

	limited := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	h := l.Middleware("status", ByQuery("session", ByClientIP(false)), limited)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(target string) int {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.RemoteAddr = "203.0.113.7:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("/session-status?session=a"))
	assert.Equal(t, http.StatusOK, do("/session-status?session=b"))
	assert.Equal(t, http.StatusTooManyRequests, do("/session-status?session=a"))

	// Without a session id the address is the key.
	assert.Equal(t, http.StatusOK, do("/session-status"))
	assert.Equal(t, http.StatusTooManyRequests, do("/session-status"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		trust   bool
		want    string
	}{
		{"remote addr", nil, "192.0.2.1:1234", false, "192.0.2.1"},
		{"remote without port", nil, "192.0.2.1", false, "192.0.2.1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "10.0.0.1:80", true, "203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.9"}, "10.0.0.1:80", true, "203.0.113.9"},
		{"forwarded for ignored", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "10.0.0.1:80", false, "10.0.0.1"},
		{"real ip ignored", map[string]string{"X-Real-IP": "203.0.113.9"}, "10.0.0.1:80", false, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req, tt.trust))
		})
	}
}
