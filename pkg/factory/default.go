package factory

import (
	"context"
	"fmt"

	"github.com/ideamans/plugingate/pkg/auth/oauth2"
	"github.com/ideamans/plugingate/pkg/config"
	"github.com/ideamans/plugingate/pkg/initiation"
	"github.com/ideamans/plugingate/pkg/ratelimit"
	"github.com/ideamans/plugingate/pkg/server"
	"github.com/ideamans/plugingate/pkg/session"
	"github.com/ideamans/plugingate/pkg/shared/kvs"
	"github.com/ideamans/plugingate/pkg/shared/logging"
	"github.com/ideamans/plugingate/pkg/token"
)

// DefaultFactory is the default implementation of Factory.
// It can be embedded in custom factories to override specific methods.
type DefaultFactory struct {
	logger logging.Logger
}

func NewDefaultFactory(logger logging.Logger) *DefaultFactory {
	return &DefaultFactory{logger: logger}
}

func (f *DefaultFactory) CreateKVSStores(cfg *config.Config) (*Stores, error) {
	cfg.KVS.Namespaces.SetDefaults()

	stores := &Stores{}
	var shared kvs.Store

	open := func(use string, dedicated *kvs.Config, namespace string) (kvs.Store, error) {
		if dedicated != nil {
			s, err := kvs.New(*dedicated)
			if err != nil {
				return nil, fmt.Errorf("failed to create %s KVS: %w", use, err)
			}
			stores.closers = append(stores.closers, s)
			f.logger.Debug("KVS initialized (dedicated)", "use", use, "type", dedicated.Type)
			return s, nil
		}
		if shared == nil {
			s, err := kvs.New(cfg.KVS.Default)
			if err != nil {
				return nil, fmt.Errorf("failed to create default KVS: %w", err)
			}
			stores.closers = append(stores.closers, s)
			shared = s
		}
		f.logger.Debug("KVS initialized (default)", "use", use, "type", cfg.KVS.Default.Type, "namespace", namespace)
		return kvs.NewNamespaced(shared, namespace+":"), nil
	}

	var err error
	if stores.Session, err = open("session", cfg.KVS.Session, cfg.KVS.Namespaces.Session); err != nil {
		_ = stores.Close()
		return nil, err
	}
	if stores.Initiation, err = open("initiation", cfg.KVS.Initiation, cfg.KVS.Namespaces.Initiation); err != nil {
		_ = stores.Close()
		return nil, err
	}
	if stores.RateLimit, err = open("ratelimit", cfg.KVS.RateLimit, cfg.KVS.Namespaces.RateLimit); err != nil {
		_ = stores.Close()
		return nil, err
	}
	return stores, nil
}

func (f *DefaultFactory) CreateSessionStore(cfg *config.Config, backend kvs.Store) (*session.Store, error) {
	ttl, err := cfg.Session.GetTTL()
	if err != nil {
		return nil, fmt.Errorf("session ttl: %w", err)
	}
	cleanup, err := cfg.Session.GetCleanupInterval()
	if err != nil {
		return nil, fmt.Errorf("session cleanup interval: %w", err)
	}
	return session.NewStore(backend, session.Config{TTL: ttl, CleanupInterval: cleanup}, f.logger), nil
}

func (f *DefaultFactory) CreateInitiationStore(cfg *config.Config, backend kvs.Store) (*initiation.Store, error) {
	ttl, err := cfg.Session.GetInitiationTTL()
	if err != nil {
		return nil, fmt.Errorf("initiation ttl: %w", err)
	}
	return initiation.New(backend, initiation.Config{
		Secret:     []byte(cfg.Session.Secret),
		TTL:        ttl,
		CookieName: cfg.Session.Cookie.Name,
		Secure:     cfg.Session.Cookie.Secure,
		SameSite:   cfg.Session.Cookie.GetSameSite(),
	})
}

func (f *DefaultFactory) CreateOAuth2Manager(ctx context.Context, cfg *config.Config) (*oauth2.Manager, error) {
	manager := oauth2.NewManager()
	oc := cfg.OAuth2

	switch oc.Provider {
	case config.ProviderGoogle:
		manager.AddProvider(oauth2.NewGoogleProvider(oc.ClientID, oc.ClientSecret, oc.CallbackURL, oc.Scopes, oc.ResetScopes))
	case config.ProviderOIDC:
		p, err := oauth2.NewOIDCProvider(ctx, config.ProviderOIDC, oc.IssuerURL, oc.ClientID, oc.ClientSecret, oc.CallbackURL, oc.Scopes)
		if err != nil {
			return nil, err
		}
		manager.AddProvider(p)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownProvider, oc.Provider)
	}

	f.logger.Debug("OAuth2 provider registered", "provider", oc.Provider, "callback", oc.CallbackURL)
	return manager, nil
}

func (f *DefaultFactory) CreateRateLimiter(cfg *config.Config, backend kvs.Store) (*ratelimit.Limiter, error) {
	if cfg.RateLimit.Disabled {
		return nil, nil
	}
	interval, err := cfg.RateLimit.GetInterval()
	if err != nil {
		return nil, fmt.Errorf("rate limit interval: %w", err)
	}
	return ratelimit.NewLimiter(cfg.RateLimit.Requests, interval, backend, f.logger), nil
}

func (f *DefaultFactory) CreateServer(ctx context.Context, cfg *config.Config, stores *Stores, sessions *session.Store) (*server.Server, error) {
	auth, err := f.CreateOAuth2Manager(ctx, cfg)
	if err != nil {
		return nil, err
	}
	initiator, err := f.CreateInitiationStore(cfg, stores.Initiation)
	if err != nil {
		return nil, err
	}
	limiter, err := f.CreateRateLimiter(cfg, stores.RateLimit)
	if err != nil {
		return nil, err
	}
	return server.New(cfg, sessions, auth, initiator, token.NewRandomIssuer(), limiter, f.logger)
}
