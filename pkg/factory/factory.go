// Package factory assembles a server from its configuration.
package factory

import (
	"context"
	"errors"
	"io"

	"github.com/ideamans/plugingate/pkg/auth/oauth2"
	"github.com/ideamans/plugingate/pkg/config"
	"github.com/ideamans/plugingate/pkg/initiation"
	"github.com/ideamans/plugingate/pkg/ratelimit"
	"github.com/ideamans/plugingate/pkg/server"
	"github.com/ideamans/plugingate/pkg/session"
	"github.com/ideamans/plugingate/pkg/shared/kvs"
)

// Factory is the interface for creating the server and its components.
// It serves as a simple DI container, so tests and embedders can replace
// single components.
type Factory interface {
	// CreateKVSStores opens the backends named by cfg.KVS.
	CreateKVSStores(cfg *config.Config) (*Stores, error)

	// CreateSessionStore starts the session store and its sweep.
	CreateSessionStore(cfg *config.Config, backend kvs.Store) (*session.Store, error)

	// CreateInitiationStore creates the signer of initiation cookies.
	CreateInitiationStore(cfg *config.Config, backend kvs.Store) (*initiation.Store, error)

	// CreateOAuth2Manager registers the configured identity provider. OIDC
	// discovery performs network I/O bounded by ctx.
	CreateOAuth2Manager(ctx context.Context, cfg *config.Config) (*oauth2.Manager, error)

	// CreateRateLimiter returns nil when rate limiting is disabled.
	CreateRateLimiter(cfg *config.Config, backend kvs.Store) (*ratelimit.Limiter, error)

	// CreateServer wires everything except the session store, which
	// outlives configuration reloads.
	CreateServer(ctx context.Context, cfg *config.Config, stores *Stores, sessions *session.Store) (*server.Server, error)
}

// Stores are the key-value backends of one server. Use cases without a
// dedicated backend share the default one under their namespace.
type Stores struct {
	Session    kvs.Store
	Initiation kvs.Store
	RateLimit  kvs.Store

	closers []io.Closer
}

// Close closes every backend that was opened for these stores.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}
