// Package initiation remembers which plugin session started a login while
// the browser is away at the identity provider.
//
// Begin stores a short-lived record keyed by a random initiation id and
// hands the browser an HS256-signed cookie naming that id. Resolve, on the
// callback, verifies the cookie and consumes the record. When the cookie does
// not survive the cross-site redirect the caller falls back to the OAuth
// state parameter.
package initiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ideamans/plugingate/pkg/shared/kvs"
	"github.com/ideamans/plugingate/pkg/token"
)

const (
	DefaultCookieName = "plugingate_init"
	DefaultTTL        = 10 * time.Minute
	issuer            = "plugingate"
)

var (
	// ErrNoContext means the request carries no usable initiation context:
	// no cookie, a cookie that fails verification, or an expired or
	// already consumed record.
	ErrNoContext = errors.New("initiation: no context")

	ErrSecretRequired = errors.New("initiation: signing secret is required")
)

// Config configures the cookie and record lifetime.
type Config struct {
	Secret     []byte
	TTL        time.Duration
	CookieName string
	CookiePath string
	Secure     bool
	SameSite   http.SameSite
}

type record struct {
	PluginSessionID string    `json:"pluginSessionId"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Store issues and resolves initiation contexts.
type Store struct {
	kvs kvs.Store
	cfg Config
	now func() time.Time
}

// New returns a Store keeping records in backend.
func New(backend kvs.Store, cfg Config) (*Store, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrSecretRequired
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	return &Store{kvs: backend, cfg: cfg, now: time.Now}, nil
}

// Begin records pluginSessionID and sets the signed cookie on w.
func (s *Store) Begin(ctx context.Context, w http.ResponseWriter, pluginSessionID string) error {
	id, err := token.NewSessionID()
	if err != nil {
		return fmt.Errorf("initiation: %w", err)
	}
	now := s.now()

	data, err := json.Marshal(record{PluginSessionID: pluginSessionID, CreatedAt: now})
	if err != nil {
		return fmt.Errorf("initiation: marshal: %w", err)
	}
	if err := s.kvs.Set(ctx, id, data, s.cfg.TTL); err != nil {
		return fmt.Errorf("initiation: store: %w", err)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
	}).SignedString(s.cfg.Secret)
	if err != nil {
		return fmt.Errorf("initiation: sign: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    signed,
		Path:     s.cfg.CookiePath,
		MaxAge:   int(s.cfg.TTL / time.Second),
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: s.cfg.SameSite,
	})
	return nil
}

// Resolve returns the plugin session id recorded by Begin and consumes the
// record, so a context can be resolved at most once.
func (s *Store) Resolve(ctx context.Context, r *http.Request) (string, error) {
	c, err := r.Cookie(s.cfg.CookieName)
	if err != nil || c.Value == "" {
		return "", ErrNoContext
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(c.Value, claims, s.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoContext, err)
	}

	data, err := s.kvs.Get(ctx, claims.Subject)
	if errors.Is(err, kvs.ErrNotFound) {
		return "", ErrNoContext
	}
	if err != nil {
		return "", fmt.Errorf("initiation: load: %w", err)
	}
	if err := s.kvs.Delete(ctx, claims.Subject); err != nil {
		return "", fmt.Errorf("initiation: consume: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil || rec.PluginSessionID == "" {
		return "", ErrNoContext
	}
	return rec.PluginSessionID, nil
}

// Clear expires the cookie on w.
func (s *Store) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     s.cfg.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: s.cfg.SameSite,
	})
}

func (s *Store) key(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return s.cfg.Secret, nil
}
