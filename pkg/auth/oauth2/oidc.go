package oauth2

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCProvider signs users in with any OpenID Connect issuer. The profile
// comes from the verified ID token; missing fields are filled from the
// userinfo endpoint.
type OIDCProvider struct {
	name     string
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	config   *oauth2.Config
}

// NewOIDCProvider discovers issuerURL. It performs network I/O.
func NewOIDCProvider(ctx context.Context, name, issuerURL, clientID, clientSecret, redirectURL string, scopes []string) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery %s: %w", issuerURL, err)
	}
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if name == "" {
		name = "oidc"
	}

	return &OIDCProvider{
		name:     name,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint:     provider.Endpoint(),
		},
	}, nil
}

func (p *OIDCProvider) Name() string { return p.name }

func (p *OIDCProvider) Config() *oauth2.Config { return p.config }

func (p *OIDCProvider) GetUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, ErrNoIDToken
	}
	idToken, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}

	var claims struct {
		Sub     string `json:"sub"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("id_token claims: %w", err)
	}
	info := &UserInfo{ID: claims.Sub, Name: claims.Name, Email: claims.Email, Picture: claims.Picture}

	if info.Name == "" || info.Email == "" {
		if ui, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token)); err == nil {
			var extra struct {
				Name    string `json:"name"`
				Picture string `json:"picture"`
			}
			_ = ui.Claims(&extra)
			if info.Email == "" {
				info.Email = ui.Email
			}
			if info.Name == "" {
				info.Name = extra.Name
			}
			if info.Picture == "" {
				info.Picture = extra.Picture
			}
		}
	}
	return info, nil
}
