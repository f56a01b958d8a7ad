package config

import "errors"

const (
	ProviderGoogle = "google"
	ProviderOIDC   = "oidc"

	EnvDevelopment = "development"
	EnvProduction  = "production"
)

var (
	ErrConfigFileNotFound    = errors.New("configuration file not found")
	ErrClientIDRequired      = errors.New("oauth2.client_id is required")
	ErrClientSecretRequired  = errors.New("oauth2.client_secret is required")
	ErrIssuerURLRequired     = errors.New("oauth2.issuer_url is required for the oidc provider")
	ErrUnknownProvider       = errors.New("unknown oauth2.provider")
	ErrSessionSecretRequired = errors.New("session.secret is required")
	ErrSessionSecretTooShort = errors.New("session.secret must be at least 32 characters")
	ErrInvalidDuration       = errors.New("invalid duration")
	ErrInvalidPort           = errors.New("invalid server.port")
	ErrInvalidRateLimit      = errors.New("ratelimit.requests must be positive")
)
