// Package oauth2 adapts identity providers to the authorization-code flow
// the backend runs on the plugin's behalf.
package oauth2

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

var (
	// ErrExchangeFailed wraps every failure between receiving the
	// authorization code and holding a user profile.
	ErrExchangeFailed = errors.New("oauth2: provider exchange failed")

	ErrProviderNotFound = errors.New("oauth2: provider not found")

	// ErrNoIDToken is returned by OIDC providers when the token response
	// carries no id_token.
	ErrNoIDToken = errors.New("oauth2: token response has no id_token")
)

// UserInfo is the subset of the provider's profile the plugin receives.
type UserInfo struct {
	ID      string
	Name    string
	Email   string
	Picture string
}

// Provider is one identity provider.
type Provider interface {
	Name() string
	Config() *oauth2.Config
	GetUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error)
}
