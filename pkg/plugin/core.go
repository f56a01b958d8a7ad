package plugin

import (
	"context"
	"errors"
	"time"

	"github.com/ideamans/plugingate/pkg/shared/logging"
)

// logoutTimeout bounds the backend call made on logout.
const logoutTimeout = 10 * time.Second

// CredentialStore is the cache as used by Core.
type CredentialStore interface {
	CredentialSaver
	Load(ctx context.Context) (*Credential, error)
	Clear(ctx context.Context) error
}

// Core is the plugin's event loop. Run handles UI messages and poll ticks
// one at a time on a single goroutine.
type Core struct {
	client   BackendClient
	cache    CredentialStore
	notifier Notifier
	poller   *Poller
	logger   logging.Logger

	inbox chan Message
}

func NewCore(client BackendClient, cache CredentialStore, notifier Notifier, cfg PollerConfig, logger logging.Logger) *Core {
	logger = logger.WithModule("plugin")
	return &Core{
		client:   client,
		cache:    cache,
		notifier: notifier,
		poller:   NewPoller(client, cache, notifier, cfg, logger),
		logger:   logger,
		inbox:    make(chan Message, 16),
	}
}

// Send queues a message from the UI.
func (c *Core) Send(ctx context.Context, m Message) error {
	select {
	case c.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run announces a cached login, then processes messages and ticks until
// ctx is done.
func (c *Core) Run(ctx context.Context) error {
	c.announceCached(ctx)

	for {
		select {
		case <-ctx.Done():
			c.poller.Stop()
			return ctx.Err()
		case m := <-c.inbox:
			c.handle(ctx, m)
		case <-c.poller.C():
			c.poller.Tick(ctx)
		}
	}
}

func (c *Core) handle(ctx context.Context, m Message) {
	switch m.Type {
	case MsgStartPolling:
		if m.SessionID == "" {
			c.logger.Warn("Ignoring startPolling without a session id")
			return
		}
		c.poller.Start(m.SessionID)
	case MsgCheckAuth:
		c.checkAuth(ctx)
	case MsgLogout:
		c.logout(ctx)
	default:
		c.logger.Warn("Ignoring unknown message", "type", m.Type)
	}
}

func (c *Core) announceCached(ctx context.Context) {
	cred, err := c.cache.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoCredential) {
			c.logger.Warn("Failed to read cached credential", "error", err)
		}
		return
	}
	if cred.Profile == nil {
		return
	}
	c.notifier.Notify(Message{Type: MsgAuthStateChanged, Authenticated: true, UserProfile: cred.Profile})
}

func (c *Core) checkAuth(ctx context.Context) {
	cred, err := c.cache.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoCredential) {
			c.logger.Warn("Failed to read cached credential", "error", err)
		}
		c.notifier.Notify(Message{Type: MsgAuthStateChanged, Authenticated: false})
		return
	}
	c.notifier.Notify(Message{
		Type:          MsgAuthStateChanged,
		Authenticated: true,
		UserProfile:   cred.Profile,
		MaskedToken:   logging.Mask(cred.Token),
	})
}

// logout revokes the token on the backend when it can, then always clears
// the local credential.
func (c *Core) logout(ctx context.Context) {
	c.poller.Stop()

	cred, err := c.cache.Load(ctx)
	switch {
	case err == nil:
		rctx, cancel := context.WithTimeout(ctx, logoutTimeout)
		if err := c.client.Logout(rctx, cred.Token); err != nil {
			c.logger.Warn("Backend logout failed, clearing local credential anyway", "error", err)
		}
		cancel()
	case !errors.Is(err, ErrNoCredential):
		c.logger.Warn("Failed to read cached credential", "error", err)
	}

	if err := c.cache.Clear(ctx); err != nil {
		c.logger.Error("Failed to clear credential", "error", err)
		c.notifier.Notify(Message{Type: MsgLogoutError, Error: UserMessage(ErrLogoutPartial)})
		return
	}
	c.logger.Info("Logged out")
	c.notifier.Notify(Message{Type: MsgAuthStateChanged, Authenticated: false})
}
