package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileLoader_YAML(t *testing.T) {
	t.Setenv("PLUGINGATE_TEST_SECRET", "0123456789abcdef0123456789abcdef")

	path := writeFile(t, "config.yaml", `
server:
  port: 8080
  base_url: https://auth.example.com
oauth2:
  client_id: client-id
  client_secret: client-secret
session:
  secret: ${PLUGINGATE_TEST_SECRET}
  one_time_read: true
kvs:
  default:
    type: redis
    redis:
      addr: ${PLUGINGATE_TEST_REDIS:-localhost:6379}
logging:
  level: debug
  file:
    path: /var/log/plugingate.log
`)

	cfg, err := NewFileLoader(path).Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "https://auth.example.com/auth/google/callback", cfg.OAuth2.CallbackURL)
	assert.Equal(t, ProviderGoogle, cfg.OAuth2.Provider)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Session.Secret)
	assert.True(t, cfg.Session.OneTimeRead)
	assert.Equal(t, "24h", cfg.Session.TTL)
	assert.Equal(t, "redis", cfg.KVS.Default.Type)
	assert.Equal(t, "localhost:6379", cfg.KVS.Default.Redis.Addr)
	assert.Equal(t, "session", cfg.KVS.Namespaces.Session)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NotNil(t, cfg.Logging.File)
	assert.Equal(t, "/var/log/plugingate.log", cfg.Logging.File.Path)
	assert.Equal(t, []string{"https://www.figma.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, EnvProduction, cfg.Server.Environment)
}

func TestFileLoader_JSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "oauth2": {"client_id": "id", "client_secret": "secret", "callback_url": "https://x/cb"},
  "session": {"secret": "0123456789abcdef0123456789abcdef", "ttl": "1h"},
  "server": {"environment": "development"}
}`)

	cfg, err := NewFileLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "https://x/cb", cfg.OAuth2.CallbackURL)
	assert.Equal(t, "1h", cfg.Session.TTL)
	assert.True(t, cfg.Server.IsDevelopment())
}

func TestFileLoader_Errors(t *testing.T) {
	_, err := NewFileLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	assert.True(t, errors.Is(err, ErrConfigFileNotFound))

	_, err = NewFileLoader(writeFile(t, "config.toml", "a = 1")).Load()
	assert.ErrorContains(t, err, "unsupported config file format")

	_, err = NewFileLoader(writeFile(t, "config.yaml", "server: [")).Load()
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestEnvLoader(t *testing.T) {
	env := map[string]string{
		"GOOGLE_CLIENT_ID":     "client-id",
		"GOOGLE_CLIENT_SECRET": "client-secret",
		"SESSION_SECRET":       "0123456789abcdef0123456789abcdef",
		"PORT":                 "4000",
		"NODE_ENV":             "development",
		"ALLOWED_ORIGINS":      "https://www.figma.com, null",
		"REDIS_URL":            "redis:6379",
		"ALLOWED_USERS":        "ada@example.com, @design.example,",
		"TRUST_PROXY":          "true",
	}
	l := &EnvLoader{lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	cfg, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.True(t, cfg.Server.IsDevelopment())
	assert.Equal(t, "http://localhost:4000/auth/google/callback", cfg.OAuth2.CallbackURL)
	assert.Equal(t, []string{"https://www.figma.com", "null"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "redis", cfg.KVS.Default.Type)
	assert.Equal(t, "redis:6379", cfg.KVS.Default.Redis.Addr)
	assert.Equal(t, []string{"ada@example.com", "@design.example"}, cfg.Authorization.Allowed)
	assert.True(t, cfg.RateLimit.TrustProxyHeaders)
}

func TestEnvLoader_ProxyHeadersUntrustedByDefault(t *testing.T) {
	l := &EnvLoader{lookup: func(string) (string, bool) { return "", false }}
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.False(t, cfg.RateLimit.TrustProxyHeaders)

	l = &EnvLoader{lookup: func(k string) (string, bool) {
		if k == "TRUST_PROXY" {
			return "maybe", true
		}
		return "", false
	}}
	_, err = l.Load()
	assert.ErrorContains(t, err, "invalid TRUST_PROXY")
}

func TestEnvLoader_BadPort(t *testing.T) {
	l := &EnvLoader{lookup: func(k string) (string, bool) {
		if k == "PORT" {
			return "abc", true
		}
		return "", false
	}}
	_, err := l.Load()
	assert.ErrorContains(t, err, "invalid PORT")
}

func TestLoad_Validates(t *testing.T) {
	path := writeFile(t, "config.yaml", "oauth2:\n  client_id: only-id\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrClientSecretRequired)
	assert.ErrorIs(t, err, ErrSessionSecretRequired)
}
