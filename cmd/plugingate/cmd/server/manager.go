package server

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ideamans/plugingate/pkg/config"
	"github.com/ideamans/plugingate/pkg/factory"
	"github.com/ideamans/plugingate/pkg/server"
	"github.com/ideamans/plugingate/pkg/session"
	"github.com/ideamans/plugingate/pkg/shared/filewatcher"
	"github.com/ideamans/plugingate/pkg/shared/logging"
)

// buildTimeout bounds provider discovery during a reload.
const buildTimeout = 30 * time.Second

// ServerManager serves the current server and swaps in a new one when the
// configuration file changes. Sessions and storage backends are kept across
// reloads, so logins in flight survive.
type ServerManager struct {
	server   atomic.Value // Stores *server.Server
	draining atomic.Bool

	reloadMu sync.Mutex
	current  *config.Config // guarded by reloadMu
	hash     string         // of current
	opts     Config
	factory  factory.Factory
	stores   *factory.Stores
	sessions *session.Store
	logger   logging.Logger
}

// NewServerManager builds the initial server from cfg.
func NewServerManager(ctx context.Context, cfg *config.Config, opts Config, f factory.Factory, stores *factory.Stores, sessions *session.Store, logger logging.Logger) (*ServerManager, error) {
	m := &ServerManager{
		current:  cfg,
		opts:     opts,
		factory:  f,
		stores:   stores,
		sessions: sessions,
		logger:   logger.WithModule("manager"),
	}

	hash, err := configHash(cfg)
	if err != nil {
		return nil, err
	}
	m.hash = hash

	srv, err := f.CreateServer(ctx, cfg, stores, sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to build initial server: %w", err)
	}
	m.server.Store(srv)
	return m, nil
}

// OnFileChange implements filewatcher.ChangeListener interface
func (m *ServerManager) OnFileChange(event filewatcher.ChangeEvent) {
	if event.Error != nil {
		m.logger.Error("File change event error", "error", event.Error)
		return
	}

	m.logger.Info("Config content change detected, starting reload", "path", event.Path)
	m.reload(event.Path)
}

// reload rebuilds the server from path and replaces the current one
// atomically. On any error the current server keeps running.
func (m *ServerManager) reload(path string) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	if _, err := os.Stat(path); err != nil {
		m.logger.Error("Config file is gone, keeping current configuration", "path", path, "error", err)
		return
	}

	opts := m.opts
	opts.ConfigPath = path
	cfg, _, err := loadConfig(opts)
	if err != nil {
		m.logger.Error("Failed to reload configuration", "error", err, "path", path)
		m.logger.Error("Keeping current configuration")
		return
	}

	hash, err := configHash(cfg)
	if err != nil {
		m.logger.Error("Failed to hash configuration", "error", err)
		return
	}
	if hash == m.hash {
		m.logger.Debug("Effective configuration unchanged, skipping reload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), buildTimeout)
	defer cancel()
	srv, err := m.factory.CreateServer(ctx, cfg, m.stores, m.sessions)
	if err != nil {
		m.logger.Error("Failed to rebuild server", "error", err)
		m.logger.Error("Keeping current configuration")
		return
	}

	m.warnRestartRequired(cfg)
	m.server.Store(srv)
	m.current = cfg
	m.hash = hash
	m.logger.Info("Configuration reloaded successfully")
}

// configHash fingerprints the effective configuration, after env expansion
// and defaults.
func configHash(cfg *config.Config) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

// warnRestartRequired logs settings that only take effect on restart.
func (m *ServerManager) warnRestartRequired(next *config.Config) {
	prev := m.current
	if prev.Server.Addr() != next.Server.Addr() {
		m.logger.Warn("Listen address changed, restart to apply", "current", prev.Server.Addr(), "configured", next.Server.Addr())
	}
	if prev.Session.TTL != next.Session.TTL || prev.Session.CleanupInterval != next.Session.CleanupInterval {
		m.logger.Warn("Session lifetime changed, restart to apply")
	}
	if !reflect.DeepEqual(prev.KVS, next.KVS) {
		m.logger.Warn("Storage settings changed, restart to apply")
	}
	if prev.Logging.Level != next.Logging.Level || !reflect.DeepEqual(prev.Logging.File, next.Logging.File) {
		m.logger.Warn("Logging settings changed, restart to apply")
	}
}

// SetDraining makes /health answer 503 so load balancers stop routing new
// requests during shutdown.
func (m *ServerManager) SetDraining() {
	m.draining.Store(true)
}

// Handler returns the HTTP handler
// The handler always uses the latest server stored atomically
func (m *ServerManager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.draining.Load() && r.URL.Path == "/health" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"draining"}`))
			return
		}
		srv := m.server.Load().(*server.Server)
		srv.Handler().ServeHTTP(w, r)
	})
}
