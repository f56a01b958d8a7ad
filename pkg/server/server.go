// Package server is the HTTP backend of the plugin login handoff.
//
// A plugin that cannot follow OAuth redirects picks a random session id,
// sends the user's browser to /auth/google?session=<id> and polls
// /session-status?session=<id>. When the provider calls back, the server
// issues a bearer token and stores it with the user's profile under that id
// until the plugin collects it.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ideamans/plugingate/pkg/assets"
	"github.com/ideamans/plugingate/pkg/auth/oauth2"
	"github.com/ideamans/plugingate/pkg/authz"
	"github.com/ideamans/plugingate/pkg/config"
	"github.com/ideamans/plugingate/pkg/ratelimit"
	"github.com/ideamans/plugingate/pkg/session"
	"github.com/ideamans/plugingate/pkg/shared/logging"
	"github.com/ideamans/plugingate/pkg/token"
)

// ErrMissingCorrelationID means a provider callback could not be tied to a
// plugin session: there was neither an initiation cookie nor a state value.
var ErrMissingCorrelationID = errors.New("missing plugin session id")

// SessionStore is the subset of *session.Store the handlers use.
type SessionStore interface {
	Put(ctx context.Context, id string, sess *session.Session) error
	Get(ctx context.Context, id string) (*session.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByToken(ctx context.Context, token string) (int, error)
	Count(ctx context.Context) (int, error)
}

// Authenticator talks to the identity provider.
type Authenticator interface {
	AuthCodeURL(provider, state string) (string, error)
	Authenticate(ctx context.Context, provider, code string) (*oauth2.UserInfo, error)
}

// Initiator carries the plugin session id across the provider round trip.
type Initiator interface {
	Begin(ctx context.Context, w http.ResponseWriter, pluginSessionID string) error
	Resolve(ctx context.Context, r *http.Request) (string, error)
	Clear(w http.ResponseWriter)
}

// Server represents the HTTP server
type Server struct {
	config     *config.Config
	router     chi.Router
	sessions   SessionStore
	auth       Authenticator
	initiation Initiator
	tokens     token.Issuer
	limiter    *ratelimit.Limiter // nil disables rate limiting
	authz      authz.Checker
	pages      *assets.Pages
	logger     logging.Logger
	now        func() time.Time
}

// New builds the router. limiter may be nil.
func New(
	cfg *config.Config,
	sessions SessionStore,
	auth Authenticator,
	initiation Initiator,
	tokens token.Issuer,
	limiter *ratelimit.Limiter,
	logger logging.Logger,
) (*Server, error) {
	pages, err := assets.LoadPages()
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:     cfg,
		sessions:   sessions,
		auth:       auth,
		initiation: initiation,
		tokens:     tokens,
		limiter:    limiter,
		authz:      authz.NewEmailChecker(cfg.Authorization),
		pages:      pages,
		logger:     logger.WithModule("server"),
		now:        time.Now,
	}
	s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
	})

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handle(s.handleHealth))
	r.Get("/assets/styles.css", s.handleStylesCSS)
	r.Get("/assets/icons/{icon}", s.handleIcon)

	byIP := ratelimit.ByClientIP(s.config.RateLimit.TrustProxyHeaders)
	r.With(s.rateLimit("auth", byIP)).Get("/auth/google", s.handle(s.handleAuthStart))
	r.Get("/auth/google/callback", s.handle(s.handleAuthCallback))
	r.Get("/auth/failure", s.handle(s.handleAuthFailure))
	// Status polls are counted per session id.
	r.With(s.rateLimit("status", ratelimit.ByQuery("session", byIP))).Get("/session-status", s.handle(s.handleSessionStatus))
	r.Post("/logout", s.handle(s.handleLogout))

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) providerName() string {
	return s.config.OAuth2.Provider
}
