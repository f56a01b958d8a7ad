package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideamans/plugingate/pkg/shared/logging"
)

type pollerEnv struct {
	poller  *Poller
	clock   *fakeClock
	backend *fakeBackend
	notes   *recorder
	cache   *CredentialCache
	logger  *logging.TestLogger
}

func newPollerEnv(t *testing.T, cfg PollerConfig) *pollerEnv {
	t.Helper()
	env := &pollerEnv{
		clock:   newFakeClock(),
		backend: &fakeBackend{},
		notes:   &recorder{},
		cache:   newMemoryCache(t),
		logger:  logging.NewTestLogger(),
	}
	cfg.Clock = env.clock
	env.poller = NewPoller(env.backend, env.cache, env.notes, cfg, env.logger)
	return env
}

func TestPollerDefaults(t *testing.T) {
	env := newPollerEnv(t, PollerConfig{})
	env.poller.Start("abc123")

	require.Len(t, env.clock.active(), 1)
	assert.Equal(t, 3*time.Second, env.clock.active()[0].interval)
	assert.Equal(t, 5*time.Minute, env.poller.cfg.MaxDuration)
	assert.Equal(t, StatePolling, env.poller.State())
	assert.NotNil(t, env.poller.C())
}

func TestPollerRestartKeepsOneTicker(t *testing.T) {
	env := newPollerEnv(t, PollerConfig{})

	env.poller.Start("first")
	env.poller.Start("second")

	assert.Len(t, env.clock.tickers, 2)
	assert.Len(t, env.clock.active(), 1)
	assert.Equal(t, "second", env.poller.poll.sessionID)
}

func TestPollerTimeoutMakesNoRequest(t *testing.T) {
	env := newPollerEnv(t, PollerConfig{})
	env.poller.Start("abc123")

	env.clock.Advance(5*time.Minute + time.Second)
	assert.Equal(t, StateTimedOut, env.poller.Tick(context.Background()))

	assert.Zero(t, env.backend.Calls())
	assert.Empty(t, env.clock.active())
	assert.Equal(t, StateIdle, env.poller.State())
	assert.Nil(t, env.poller.C())
	assert.Equal(t, []Message{{Type: MsgLoginError, Error: "Authentication timeout. Please try again."}}, env.notes.Messages())
}

func TestPollerAtExactlyMaxDurationStillPolls(t *testing.T) {
	env := newPollerEnv(t, PollerConfig{})
	env.poller.Start("abc123")

	env.clock.Advance(5 * time.Minute)
	assert.Equal(t, StatePolling, env.poller.Tick(context.Background()))
	assert.Equal(t, 1, env.backend.Calls())
}

func TestPollerPendingKeepsPolling(t *testing.T) {
	env := newPollerEnv(t, PollerConfig{})
	env.poller.Start("abc123")

	for i := 0; i < 3; i++ {
		env.clock.Advance(3 * time.Second)
		assert.Equal(t, StatePolling, env.poller.Tick(context.Background()))
	}
	assert.Equal(t, 3, env.backend.Calls())
	assert.Empty(t, env.notes.Messages())
	assert.Len(t, env.clock.active(), 1)
}

func TestPollerSuccess(t *testing.T) {
	env := newPollerEnv(t, PollerConfig{})
	ctx := context.Background()
	env.backend.push(&StatusResponse{Authenticated: true, Token: "tok-1", UserProfile: ada}, nil)

	env.poller.Start("abc123")
	assert.Equal(t, StateSucceeded, env.poller.Tick(ctx))

	assert.Empty(t, env.clock.active())
	assert.Equal(t, []Message{{Type: MsgLoginSuccess, Authenticated: true, UserProfile: ada}}, env.notes.Messages())

	cred, err := env.cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cred.Token)
	assert.Equal(t, ada, cred.Profile)
}

func TestPollerSuccessWithLegacyUserInfo(t *testing.T) {
	env := newPollerEnv(t, PollerConfig{})
	env.backend.push(&StatusResponse{Authenticated: true, Token: "tok-1", UserInfo: ada}, nil)

	env.poller.Start("abc123")
	env.poller.Tick(context.Background())

	require.Len(t, env.notes.Messages(), 1)
	assert.Equal(t, ada, env.notes.Messages()[0].UserProfile)
}

func TestPollerCacheFailureStillSucceeds(t *testing.T) {
	env := newPollerEnv(t, PollerConfig{})
	env.poller.cache = &brokenCache{CredentialCache: env.cache, failSave: true}
	env.backend.push(&StatusResponse{Authenticated: true, Token: "tok-1", UserProfile: ada}, nil)

	env.poller.Start("abc123")
	assert.Equal(t, StateSucceeded, env.poller.Tick(context.Background()))
	assert.Equal(t, MsgLoginSuccess, env.notes.Messages()[0].Type)
	assert.True(t, env.logger.Contains("Failed to cache credential"))
}

func TestPollerServerError(t *testing.T) {
	env := newPollerEnv(t, PollerConfig{})
	env.backend.push(&StatusResponse{Authenticated: false, Error: "Session expired"}, nil)

	env.poller.Start("abc123")
	assert.Equal(t, StateFailed, env.poller.Tick(context.Background()))

	assert.Empty(t, env.clock.active())
	assert.Equal(t, []Message{{Type: MsgLoginError, Error: "Session expired"}}, env.notes.Messages())
}

func TestPollerNetworkErrorFailsFast(t *testing.T) {
	env := newPollerEnv(t, PollerConfig{})
	env.backend.push(nil, errors.New("connection refused"))

	env.poller.Start("abc123")
	assert.Equal(t, StateFailed, env.poller.Tick(context.Background()))

	assert.Empty(t, env.clock.active())
	assert.Equal(t, []Message{{
		Type:  MsgLoginError,
		Error: "Network error. Please check your connection and try again.",
	}}, env.notes.Messages())
}

func TestPollerToleratesTransientErrors(t *testing.T) {
	env := newPollerEnv(t, PollerConfig{MaxTransientErrors: 2})
	ctx := context.Background()
	env.poller.Start("abc123")

	env.backend.push(nil, errors.New("blip"))
	env.backend.push(nil, errors.New("blip"))
	env.backend.push(&StatusResponse{}, nil)
	env.backend.push(nil, errors.New("blip"))
	env.backend.push(nil, errors.New("blip"))
	env.backend.push(nil, errors.New("blip"))

	// Two failures, a pending reply that resets the count, two more failures.
	for i := 0; i < 5; i++ {
		assert.Equal(t, StatePolling, env.poller.Tick(ctx), "tick %d", i)
	}
	assert.Equal(t, StateFailed, env.poller.Tick(ctx))
	assert.Equal(t, MsgLoginError, env.notes.Messages()[0].Type)
}

func TestPollerStop(t *testing.T) {
	env := newPollerEnv(t, PollerConfig{})
	env.poller.Start("abc123")
	env.poller.Stop()
	env.poller.Stop()

	assert.Empty(t, env.clock.active())
	assert.Equal(t, StateIdle, env.poller.Tick(context.Background()))
	assert.Zero(t, env.backend.Calls())
}

func TestPollerUsesSystemClock(t *testing.T) {
	p := NewPoller(&fakeBackend{}, newMemoryCache(t), &recorder{}, PollerConfig{Interval: time.Millisecond}, logging.NewTestLogger())
	p.Start("abc123")
	defer p.Stop()

	select {
	case <-p.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "succeeded", StateSucceeded.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "timed out", StateTimedOut.String())
	assert.Equal(t, "unknown", State(42).String())
}
