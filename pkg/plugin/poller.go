package plugin

import (
	"context"
	"time"

	"github.com/ideamans/plugingate/pkg/shared/logging"
)

const (
	DefaultPollInterval    = 3 * time.Second
	DefaultPollMaxDuration = 5 * time.Minute
)

// State is the poller's position in a login attempt.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateSucceeded
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Clock is time as seen by the poller.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of *time.Ticker the poller uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (t systemTicker) C() <-chan time.Time { return t.t.C }
func (t systemTicker) Stop()               { t.t.Stop() }

// PollerConfig tunes the poller. Zero values take the defaults.
type PollerConfig struct {
	Interval    time.Duration
	MaxDuration time.Duration
	// MaxTransientErrors is how many consecutive failed requests are
	// tolerated before the attempt fails. 0 fails on the first.
	MaxTransientErrors int
	Clock              Clock
}

// CredentialSaver receives the credential of a completed login.
type CredentialSaver interface {
	Save(ctx context.Context, token string, profile *Profile) error
}

// pollState is one login attempt.
type pollState struct {
	sessionID string
	startedAt time.Time
	ticker    Ticker
	failures  int
}

// Poller drives one login attempt at a time. It is not safe for concurrent
// use; Core serialises every call.
type Poller struct {
	client   BackendClient
	cache    CredentialSaver
	notifier Notifier
	cfg      PollerConfig
	logger   logging.Logger

	poll *pollState
}

func NewPoller(client BackendClient, cache CredentialSaver, notifier Notifier, cfg PollerConfig, logger logging.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultPollMaxDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	return &Poller{
		client:   client,
		cache:    cache,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.WithModule("poller"),
	}
}

// Start begins polling for sessionID, abandoning any attempt in progress.
func (p *Poller) Start(sessionID string) {
	p.Stop()
	p.poll = &pollState{
		sessionID: sessionID,
		startedAt: p.cfg.Clock.Now(),
		ticker:    p.cfg.Clock.NewTicker(p.cfg.Interval),
	}
	p.logger.Debug("Polling started", "session", logging.Mask(sessionID))
}

// Stop abandons the current attempt, if any.
func (p *Poller) Stop() {
	if p.poll == nil {
		return
	}
	p.poll.ticker.Stop()
	p.poll = nil
}

// State is StatePolling while an attempt is active and StateIdle otherwise.
func (p *Poller) State() State {
	if p.poll != nil {
		return StatePolling
	}
	return StateIdle
}

// C fires on every poll interval; nil when idle.
func (p *Poller) C() <-chan time.Time {
	if p.poll == nil {
		return nil
	}
	return p.poll.ticker.C()
}

// Tick runs one poll and returns the outcome. Terminal outcomes stop the
// ticker and notify the UI; the poller is then idle again.
func (p *Poller) Tick(ctx context.Context) State {
	poll := p.poll
	if poll == nil {
		return StateIdle
	}

	if p.cfg.Clock.Now().Sub(poll.startedAt) > p.cfg.MaxDuration {
		p.Stop()
		p.logger.Info("Login timed out", "session", logging.Mask(poll.sessionID))
		p.notifier.Notify(loginError(ErrPollTimeout))
		return StateTimedOut
	}

	status, err := p.client.SessionStatus(ctx, poll.sessionID)
	if err != nil {
		poll.failures++
		if poll.failures <= p.cfg.MaxTransientErrors {
			p.logger.Warn("Session status failed, will retry", "attempt", poll.failures, "error", err)
			return StatePolling
		}
		p.Stop()
		p.logger.Warn("Session status failed", "error", err)
		p.notifier.Notify(loginError(ErrPollNetwork))
		return StateFailed
	}
	poll.failures = 0

	switch {
	case status.Authenticated:
		p.Stop()
		profile := status.Profile()
		if err := p.cache.Save(ctx, status.Token, profile); err != nil {
			p.logger.Error("Failed to cache credential", "error", err)
		}
		p.logger.Info("Login succeeded", "session", logging.Mask(poll.sessionID))
		p.notifier.Notify(Message{Type: MsgLoginSuccess, Authenticated: true, UserProfile: profile})
		return StateSucceeded

	case status.Error != "":
		p.Stop()
		p.logger.Info("Login failed", "session", logging.Mask(poll.sessionID), "error", status.Error)
		p.notifier.Notify(Message{Type: MsgLoginError, Error: status.Error})
		return StateFailed

	default:
		return StatePolling
	}
}
