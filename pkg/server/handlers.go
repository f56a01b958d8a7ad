package server

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ideamans/plugingate/pkg/assets"
	"github.com/ideamans/plugingate/pkg/i18n"
	"github.com/ideamans/plugingate/pkg/initiation"
	"github.com/ideamans/plugingate/pkg/session"
	"github.com/ideamans/plugingate/pkg/shared/logging"
)

const failurePath = "/auth/failure"

type rootResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		Status:    "ok",
		Message:   s.config.Service.Name,
		Timestamp: s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) error {
	n, err := s.sessions.Count(r.Context())
	if err != nil {
		return fmt.Errorf("count sessions: %w", err)
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: n})
	return nil
}

func (s *Server) handleStylesCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write([]byte(assets.GetEmbeddedCSS()))
}

func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	data, err := assets.GetEmbeddedIcons().ReadFile(path.Join("static/icons", path.Base(chi.URLParam(r, "icon"))))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

// handleAuthStart remembers the plugin session id and sends the browser to
// the provider. The id also travels as the OAuth state.
func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) error {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Session ID required"})
		return nil
	}

	if err := s.initiation.Begin(r.Context(), w, sessionID); err != nil {
		return fmt.Errorf("begin initiation: %w", err)
	}

	authURL, err := s.auth.AuthCodeURL(s.providerName(), sessionID)
	if err != nil {
		return fmt.Errorf("build auth url: %w", err)
	}

	s.logger.Debug("Starting login", "session", logging.Mask(sessionID), "provider", s.providerName())
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// handleAuthCallback completes the code exchange and stores the result
// under the plugin session id. Every user-facing failure lands on the
// failure page.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	q := r.URL.Query()

	pluginSessionID := s.correlate(r)
	s.initiation.Clear(w)

	if providerErr := q.Get("error"); providerErr != "" {
		s.logger.Warn("Provider denied login", "error", providerErr, "description", q.Get("error_description"))
		http.Redirect(w, r, failurePath, http.StatusFound)
		return nil
	}
	code := q.Get("code")
	if code == "" {
		s.logger.Warn("Callback without authorization code")
		http.Redirect(w, r, failurePath, http.StatusFound)
		return nil
	}

	info, err := s.auth.Authenticate(ctx, s.providerName(), code)
	if err != nil {
		s.logger.Warn("Login failed", "error", err)
		http.Redirect(w, r, failurePath, http.StatusFound)
		return nil
	}

	if !s.authz.IsAllowed(info.Email) {
		s.logger.Warn("User not authorized", "user", info.ID)
		http.Redirect(w, r, failurePath, http.StatusFound)
		return nil
	}

	if pluginSessionID == "" {
		s.logger.Warn("Login failed", "error", ErrMissingCorrelationID)
		http.Redirect(w, r, failurePath, http.StatusFound)
		return nil
	}

	tok, err := s.tokens.Issue()
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	sess := &session.Session{
		ID:            pluginSessionID,
		Authenticated: true,
		Token:         tok,
		Profile: session.Profile{
			ID:          info.ID,
			DisplayName: info.Name,
			Name:        info.Name,
			Email:       info.Email,
			Picture:     info.Picture,
		},
		CreatedAt: s.now(),
	}
	if err := s.sessions.Put(ctx, pluginSessionID, sess); err != nil {
		if errors.Is(err, session.ErrSessionExists) {
			s.logger.Warn("Rejected reused session id", "session", logging.Mask(pluginSessionID))
			http.Redirect(w, r, failurePath, http.StatusFound)
			return nil
		}
		return fmt.Errorf("store session: %w", err)
	}

	s.logger.Info("User authenticated", "session", logging.Mask(pluginSessionID), "user", info.ID)
	return s.renderPage(w, r, http.StatusOK, assets.PageSuccess, displayUser(info.Name, info.Email))
}

// correlate recovers the plugin session id from the initiation cookie,
// falling back to the state parameter.
func (s *Server) correlate(r *http.Request) string {
	id, err := s.initiation.Resolve(r.Context(), r)
	if err == nil {
		return id
	}
	if !errors.Is(err, initiation.ErrNoContext) {
		s.logger.Warn("Failed to resolve initiation context", "error", err)
	}
	return r.URL.Query().Get("state")
}

func (s *Server) handleAuthFailure(w http.ResponseWriter, r *http.Request) error {
	return s.renderPage(w, r, http.StatusOK, assets.PageFailure, "")
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, page, user string) error {
	var buf strings.Builder
	data := assets.PageData{
		ServiceName: s.config.Service.Name,
		User:        user,
		Lang:        i18n.DetectLanguage(r),
		Theme:       i18n.DetectTheme(r),
	}
	if err := s.pages.Render(&buf, page, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(buf.String()))
	return nil
}

func displayUser(name, email string) string {
	if name != "" {
		return name
	}
	return email
}

type statusResponse struct {
	Authenticated bool             `json:"authenticated"`
	Token         string           `json:"token,omitempty"`
	UserProfile   *session.Profile `json:"userProfile,omitempty"`
	UserInfo      *session.Profile `json:"userInfo,omitempty"` // same as UserProfile, for older plugins
	Error         string           `json:"error,omitempty"`
}

// handleSessionStatus is polled by the plugin until the login completes.
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Session ID required"})
		return nil
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeJSON(w, http.StatusOK, statusResponse{Authenticated: false})
		return nil
	case errors.Is(err, session.ErrSessionExpired):
		writeJSON(w, http.StatusOK, statusResponse{Authenticated: false, Error: "Session expired"})
		return nil
	case err != nil:
		return fmt.Errorf("get session: %w", err)
	}

	if s.config.Session.OneTimeRead {
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			s.logger.Warn("Failed to delete collected session", "session", logging.Mask(sessionID), "error", err)
		}
	}

	profile := sess.Profile
	writeJSON(w, http.StatusOK, statusResponse{
		Authenticated: sess.Authenticated,
		Token:         sess.Token,
		UserProfile:   &profile,
		UserInfo:      &profile,
	})
	return nil
}

type logoutResponse struct {
	Success bool `json:"success"`
}

// handleLogout revokes every session holding the bearer token. A missing or
// unknown token still succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) error {
	if tok := bearerToken(r); tok != "" {
		n, err := s.sessions.DeleteByToken(r.Context(), tok)
		if err != nil {
			return fmt.Errorf("delete sessions by token: %w", err)
		}
		s.logger.Info("User logged out", "sessions", n)
	}
	writeJSON(w, http.StatusOK, logoutResponse{Success: true})
	return nil
}

func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
