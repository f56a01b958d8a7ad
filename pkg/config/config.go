// Package config defines the plugingate server configuration.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ideamans/plugingate/pkg/shared/kvs"
	"github.com/ideamans/plugingate/pkg/shared/logging"
)

// Config is the root of the YAML/JSON configuration file.
type Config struct {
	Service       ServiceConfig       `yaml:"service" json:"service"`
	Server        ServerConfig        `yaml:"server" json:"server"`
	OAuth2        OAuth2Config        `yaml:"oauth2" json:"oauth2"`
	Session       SessionConfig       `yaml:"session" json:"session"`
	Authorization AuthorizationConfig `yaml:"authorization" json:"authorization"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit" json:"ratelimit"`
	KVS           KVSConfig           `yaml:"kvs" json:"kvs"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
}

type ServiceConfig struct {
	Name string `yaml:"name" json:"name"` // shown on the health endpoint and result pages
}

// ServerConfig contains listener and browser-facing settings.
type ServerConfig struct {
	Host           string   `yaml:"host" json:"host"`
	Port           int      `yaml:"port" json:"port"`
	BaseURL        string   `yaml:"base_url" json:"base_url"`         // public URL, used to derive the callback URL
	Environment    string   `yaml:"environment" json:"environment"`   // "development" exposes error details in responses
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// IsDevelopment reports whether error details may be returned to callers.
func (s ServerConfig) IsDevelopment() bool {
	return strings.EqualFold(s.Environment, EnvDevelopment)
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetBaseURL returns BaseURL or one derived from host and port.
func (s ServerConfig) GetBaseURL() string {
	if s.BaseURL != "" {
		return strings.TrimSuffix(s.BaseURL, "/")
	}
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}

// OAuth2Config selects and configures the identity provider.
type OAuth2Config struct {
	Provider     string   `yaml:"provider" json:"provider"` // "google" (default) or "oidc"
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"client_secret"`
	CallbackURL  string   `yaml:"callback_url" json:"callback_url"` // default {base_url}/auth/google/callback
	IssuerURL    string   `yaml:"issuer_url" json:"issuer_url"`     // oidc only
	Scopes       []string `yaml:"scopes" json:"scopes"`
	ResetScopes  bool     `yaml:"reset_scopes" json:"reset_scopes"`
}

// SessionConfig controls the handoff between the browser and the plugin.
type SessionConfig struct {
	TTL             string       `yaml:"ttl" json:"ttl"`
	CleanupInterval string       `yaml:"cleanup_interval" json:"cleanup_interval"`
	OneTimeRead     bool         `yaml:"one_time_read" json:"one_time_read"` // delete a session once its status has been read as authenticated
	Secret          string       `yaml:"secret" json:"secret"`               // signs the initiation cookie
	InitiationTTL   string       `yaml:"initiation_ttl" json:"initiation_ttl"`
	Cookie          CookieConfig `yaml:"cookie" json:"cookie"`
}

func (s SessionConfig) GetTTL() (time.Duration, error) {
	return time.ParseDuration(s.TTL)
}

func (s SessionConfig) GetCleanupInterval() (time.Duration, error) {
	return time.ParseDuration(s.CleanupInterval)
}

func (s SessionConfig) GetInitiationTTL() (time.Duration, error) {
	return time.ParseDuration(s.InitiationTTL)
}

// CookieConfig configures the initiation cookie.
type CookieConfig struct {
	Name     string `yaml:"name" json:"name"`
	Secure   bool   `yaml:"secure" json:"secure"`
	SameSite string `yaml:"samesite" json:"samesite"`
}

func (c CookieConfig) GetSameSite() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// AuthorizationConfig restricts who may finish a login. Entries are email
// addresses or domains written as "@example.com". Empty allows everyone the
// provider authenticates.
type AuthorizationConfig struct {
	Allowed []string `yaml:"allowed" json:"allowed"`
}

// RateLimitConfig limits login starts per client address and status polls
// per session id.
type RateLimitConfig struct {
	Disabled bool   `yaml:"disabled" json:"disabled"`
	Requests int    `yaml:"requests" json:"requests"`
	Interval string `yaml:"interval" json:"interval"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" json:"trust_proxy_headers"`
}

func (r RateLimitConfig) GetInterval() (time.Duration, error) {
	return time.ParseDuration(r.Interval)
}

// KVSConfig configures storage. Each use case shares Default under its
// namespace unless it has a dedicated backend.
type KVSConfig struct {
	Default    kvs.Config      `yaml:"default" json:"default"`
	Session    *kvs.Config     `yaml:"session,omitempty" json:"session,omitempty"`
	Initiation *kvs.Config     `yaml:"initiation,omitempty" json:"initiation,omitempty"`
	RateLimit  *kvs.Config     `yaml:"ratelimit,omitempty" json:"ratelimit,omitempty"`
	Namespaces NamespaceConfig `yaml:"namespaces" json:"namespaces"`
}

type NamespaceConfig struct {
	Session    string `yaml:"session" json:"session"`
	Initiation string `yaml:"initiation" json:"initiation"`
	RateLimit  string `yaml:"ratelimit" json:"ratelimit"`
}

func (n *NamespaceConfig) SetDefaults() {
	if n.Session == "" {
		n.Session = "session"
	}
	if n.Initiation == "" {
		n.Initiation = "initiation"
	}
	if n.RateLimit == "" {
		n.RateLimit = "ratelimit"
	}
}

type LoggingConfig struct {
	Level string             `yaml:"level" json:"level"`
	Color bool               `yaml:"color" json:"color"`
	File  *FileLoggingConfig `yaml:"file,omitempty" json:"file,omitempty"`
}

// FileLoggingConfig enables a rotating log file in addition to stdout.
type FileLoggingConfig struct {
	Path       string `yaml:"path" json:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty" json:"max_backups,omitempty"`
	MaxAge     int    `yaml:"max_age,omitempty" json:"max_age,omitempty"`
	Compress   bool   `yaml:"compress,omitempty" json:"compress,omitempty"`
}

// RotationConfig converts to the logging package's type; nil when file
// logging is off.
func (l LoggingConfig) RotationConfig() *logging.FileRotationConfig {
	if l.File == nil || l.File.Path == "" {
		return nil
	}
	return &logging.FileRotationConfig{
		Path:       l.File.Path,
		MaxSizeMB:  l.File.MaxSizeMB,
		MaxBackups: l.File.MaxBackups,
		MaxAge:     l.File.MaxAge,
		Compress:   l.File.Compress,
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	verr := NewValidationError()

	if c.OAuth2.ClientID == "" {
		verr.Add(ErrClientIDRequired)
	}
	if c.OAuth2.ClientSecret == "" {
		verr.Add(ErrClientSecretRequired)
	}
	switch c.OAuth2.Provider {
	case ProviderGoogle:
	case ProviderOIDC:
		if c.OAuth2.IssuerURL == "" {
			verr.Add(ErrIssuerURLRequired)
		}
	default:
		verr.Add(fmt.Errorf("%w: %q", ErrUnknownProvider, c.OAuth2.Provider))
	}

	if c.Session.Secret == "" {
		verr.Add(ErrSessionSecretRequired)
	} else if len(c.Session.Secret) < 32 {
		verr.Add(ErrSessionSecretTooShort)
	}

	for _, f := range []struct{ name, value string }{
		{"session.ttl", c.Session.TTL},
		{"session.cleanup_interval", c.Session.CleanupInterval},
		{"session.initiation_ttl", c.Session.InitiationTTL},
		{"ratelimit.interval", c.RateLimit.Interval},
	} {
		d, err := time.ParseDuration(f.value)
		if err != nil || d <= 0 {
			verr.Add(fmt.Errorf("%w: %s=%q", ErrInvalidDuration, f.name, f.value))
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		verr.Add(fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port))
	}
	if !c.RateLimit.Disabled && c.RateLimit.Requests <= 0 {
		verr.Add(ErrInvalidRateLimit)
	}

	return verr.ErrorOrNil()
}
