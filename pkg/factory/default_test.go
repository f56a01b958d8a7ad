package factory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/ideamans/plugingate/pkg/config"
	"github.com/ideamans/plugingate/pkg/shared/kvs"
	"github.com/ideamans/plugingate/pkg/shared/logging"
)

var _ Factory = (*DefaultFactory)(nil)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 3000},
		OAuth2: config.OAuth2Config{
			Provider:     config.ProviderGoogle,
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			CallbackURL:  "http://localhost:3000/auth/google/callback",
		},
		Session: config.SessionConfig{
			TTL:             "24h",
			CleanupInterval: "1h",
			InitiationTTL:   "10m",
			Secret:          "0123456789abcdef0123456789abcdef",
			Cookie:          config.CookieConfig{Name: "plugingate_init", SameSite: "lax"},
		},
		RateLimit: config.RateLimitConfig{Requests: 60, Interval: "1m"},
		KVS:       config.KVSConfig{Default: kvs.Config{Type: "memory"}},
	}
}

func TestCreateKVSStoresSharesDefault(t *testing.T) {
	f := NewDefaultFactory(logging.NewTestLogger())
	stores, err := f.CreateKVSStores(testConfig())
	if err != nil {
		t.Fatalf("CreateKVSStores: %v", err)
	}
	defer stores.Close()

	if len(stores.closers) != 1 {
		t.Errorf("expected one shared backend, got %d", len(stores.closers))
	}

	ctx := context.Background()
	if err := stores.Session.Set(ctx, "abc", []byte("1"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := stores.Initiation.Get(ctx, "abc"); !errors.Is(err, kvs.ErrNotFound) {
		t.Errorf("namespaces leak: got %v", err)
	}
	if n, _ := stores.RateLimit.Count(ctx, ""); n != 0 {
		t.Errorf("expected empty ratelimit namespace, got %d", n)
	}
}

func TestCreateKVSStoresRedisNamespaces(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.KVS.Default = kvs.Config{Type: "redis", Redis: kvs.RedisConfig{Addr: mr.Addr()}}

	stores, err := NewDefaultFactory(logging.NewTestLogger()).CreateKVSStores(cfg)
	if err != nil {
		t.Fatalf("CreateKVSStores: %v", err)
	}
	defer stores.Close()

	ctx := context.Background()
	_ = stores.Session.Set(ctx, "abc", []byte("1"), 0)
	_ = stores.Initiation.Set(ctx, "abc", []byte("2"), 0)

	for _, key := range []string{"session:abc", "initiation:abc"} {
		if !mr.Exists(key) {
			t.Errorf("expected redis key %q", key)
		}
	}
}

func TestCreateKVSStoresDedicated(t *testing.T) {
	cfg := testConfig()
	cfg.KVS.Session = &kvs.Config{Type: "leveldb", LevelDB: kvs.LevelDBConfig{Path: filepath.Join(t.TempDir(), "sessions")}}

	stores, err := NewDefaultFactory(logging.NewTestLogger()).CreateKVSStores(cfg)
	if err != nil {
		t.Fatalf("CreateKVSStores: %v", err)
	}
	if len(stores.closers) != 2 {
		t.Errorf("expected dedicated and shared backends, got %d", len(stores.closers))
	}
	if _, ok := stores.Session.(*kvs.LevelDBStore); !ok {
		t.Errorf("session store is %T, want *kvs.LevelDBStore", stores.Session)
	}
	if err := stores.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCreateKVSStoresBadType(t *testing.T) {
	cfg := testConfig()
	cfg.KVS.RateLimit = &kvs.Config{Type: "etcd"}

	_, err := NewDefaultFactory(logging.NewTestLogger()).CreateKVSStores(cfg)
	if err == nil || !strings.Contains(err.Error(), "ratelimit KVS") {
		t.Errorf("expected ratelimit KVS error, got %v", err)
	}
}

func TestCreateRateLimiter(t *testing.T) {
	f := NewDefaultFactory(logging.NewTestLogger())
	store, _ := kvs.NewMemoryStore("", kvs.MemoryConfig{})
	defer store.Close()

	cfg := testConfig()
	limiter, err := f.CreateRateLimiter(cfg, store)
	if err != nil || limiter == nil {
		t.Fatalf("expected a limiter, got %v, %v", limiter, err)
	}

	cfg.RateLimit.Disabled = true
	limiter, err = f.CreateRateLimiter(cfg, store)
	if err != nil || limiter != nil {
		t.Errorf("expected no limiter when disabled, got %v, %v", limiter, err)
	}
}

func TestCreateOAuth2Manager(t *testing.T) {
	f := NewDefaultFactory(logging.NewTestLogger())

	manager, err := f.CreateOAuth2Manager(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("CreateOAuth2Manager: %v", err)
	}
	u, err := manager.AuthCodeURL("google", "abc123")
	if err != nil {
		t.Fatalf("AuthCodeURL: %v", err)
	}
	if !strings.Contains(u, "state=abc123") || !strings.Contains(u, "client_id=client-id") {
		t.Errorf("unexpected auth url %s", u)
	}

	cfg := testConfig()
	cfg.OAuth2.Provider = "github"
	if _, err := f.CreateOAuth2Manager(context.Background(), cfg); !errors.Is(err, config.ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestCreateOAuth2ManagerOIDCDiscoveryFails(t *testing.T) {
	issuer := httptest.NewServer(http.NotFoundHandler())
	defer issuer.Close()

	cfg := testConfig()
	cfg.OAuth2.Provider = config.ProviderOIDC
	cfg.OAuth2.IssuerURL = issuer.URL

	if _, err := NewDefaultFactory(logging.NewTestLogger()).CreateOAuth2Manager(context.Background(), cfg); err == nil {
		t.Error("expected discovery error")
	}
}

func TestCreateServer(t *testing.T) {
	f := NewDefaultFactory(logging.NewTestLogger())
	cfg := testConfig()

	stores, err := f.CreateKVSStores(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer stores.Close()

	sessions, err := f.CreateSessionStore(cfg, stores.Session)
	if err != nil {
		t.Fatal(err)
	}
	defer sessions.Close()

	srv, err := f.CreateServer(context.Background(), cfg, stores, sessions)
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google?session=abc123", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "https://accounts.google.com/") {
		t.Errorf("unexpected redirect %s", loc)
	}
	if len(rec.Result().Cookies()) != 1 {
		t.Errorf("expected the initiation cookie to be set")
	}
}

func TestCreateServerBadSecret(t *testing.T) {
	f := NewDefaultFactory(logging.NewTestLogger())
	cfg := testConfig()
	cfg.Session.Secret = ""

	stores, _ := f.CreateKVSStores(cfg)
	defer stores.Close()
	sessions, _ := f.CreateSessionStore(cfg, stores.Session)
	defer sessions.Close()

	if _, err := f.CreateServer(context.Background(), cfg, stores, sessions); err == nil {
		t.Error("expected an error without a signing secret")
	}
}
