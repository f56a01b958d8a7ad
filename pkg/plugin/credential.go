// Package plugin is the sandboxed side of the login handoff: it polls the
// backend for the session it started, keeps the resulting credential and
// reports progress to the UI as one-way messages.
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ideamans/plugingate/pkg/shared/kvs"
)

// Storage keys, shared with earlier plugin builds.
const (
	keyAuthToken = "authToken"
	keyUserInfo  = "userInfo"
)

// ErrNoCredential means no token is cached.
var ErrNoCredential = errors.New("plugin: no cached credential")

// Profile is the user profile as sent by the backend.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Picture     string `json:"picture,omitempty"`
}

// Credential is what a completed login leaves behind.
type Credential struct {
	Token   string
	Profile *Profile // nil when the profile entry is missing or unreadable
}

// CredentialCache persists the credential between runs.
type CredentialCache struct {
	store kvs.Store
}

func NewCredentialCache(store kvs.Store) *CredentialCache {
	return &CredentialCache{store: store}
}

// Save writes the token and the JSON-encoded profile.
func (c *CredentialCache) Save(ctx context.Context, token string, profile *Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("plugin: encode profile: %w", err)
	}
	if err := c.store.Set(ctx, keyAuthToken, []byte(token), 0); err != nil {
		return fmt.Errorf("plugin: save token: %w", err)
	}
	if err := c.store.Set(ctx, keyUserInfo, data, 0); err != nil {
		return fmt.Errorf("plugin: save profile: %w", err)
	}
	return nil
}

// Load returns ErrNoCredential when no token is stored.
func (c *CredentialCache) Load(ctx context.Context) (*Credential, error) {
	tok, err := c.store.Get(ctx, keyAuthToken)
	if errors.Is(err, kvs.ErrNotFound) || (err == nil && len(tok) == 0) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("plugin: load token: %w", err)
	}

	cred := &Credential{Token: string(tok)}
	data, err := c.store.Get(ctx, keyUserInfo)
	switch {
	case errors.Is(err, kvs.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("plugin: load profile: %w", err)
	default:
		var p Profile
		if json.Unmarshal(data, &p) == nil {
			cred.Profile = &p
		}
	}
	return cred, nil
}

// Clear deletes both keys.
func (c *CredentialCache) Clear(ctx context.Context) error {
	return errors.Join(
		c.store.Delete(ctx, keyAuthToken),
		c.store.Delete(ctx, keyUserInfo),
	)
}
