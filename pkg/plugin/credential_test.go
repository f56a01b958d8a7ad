package plugin

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideamans/plugingate/pkg/shared/kvs"
)

func TestCredentialCacheEmpty(t *testing.T) {
	cache := newMemoryCache(t)

	_, err := cache.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestCredentialCacheSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryCache(t)

	require.NoError(t, cache.Save(ctx, "tok-1", ada))

	cred, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Credential{Token: "tok-1", Profile: ada}, cred)

	require.NoError(t, cache.Clear(ctx))
	_, err = cache.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCredential)

	// Clearing twice is fine.
	assert.NoError(t, cache.Clear(ctx))
}

func TestCredentialCacheKeys(t *testing.T) {
	ctx := context.Background()
	store, err := kvs.NewMemoryStore("", kvs.MemoryConfig{})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, NewCredentialCache(store).Save(ctx, "tok-1", ada))

	tok, err := store.Get(ctx, "authToken")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", string(tok))

	info, err := store.Get(ctx, "userInfo")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1234567890","displayName":"Ada Lovelace","name":"Ada Lovelace","email":"ada@example.com"}`, string(info))
}

func TestCredentialCacheProfileProblems(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		info []byte // nil leaves the key unset
	}{
		{name: "missing profile"},
		{name: "corrupt profile", info: []byte("{not json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := kvs.NewMemoryStore("", kvs.MemoryConfig{})
			require.NoError(t, err)
			defer func() { _ = store.Close() }()

			require.NoError(t, store.Set(ctx, "authToken", []byte("tok-1"), 0))
			if tt.info != nil {
				require.NoError(t, store.Set(ctx, "userInfo", tt.info, 0))
			}

			cred, err := NewCredentialCache(store).Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "tok-1", cred.Token)
			assert.Nil(t, cred.Profile)
		})
	}
}

func TestCredentialCacheEmptyToken(t *testing.T) {
	ctx := context.Background()
	store, err := kvs.NewMemoryStore("", kvs.MemoryConfig{})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Set(ctx, "authToken", []byte{}, 0))
	_, err = NewCredentialCache(store).Load(ctx)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestCredentialCacheSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials")

	store, err := kvs.NewLevelDBStore("plugin", kvs.LevelDBConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, NewCredentialCache(store).Save(ctx, "tok-1", ada))
	require.NoError(t, store.Close())

	store, err = kvs.NewLevelDBStore("plugin", kvs.LevelDBConfig{Path: path})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	cred, err := NewCredentialCache(store).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cred.Token)
	assert.Equal(t, ada, cred.Profile)
}
