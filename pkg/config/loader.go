package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	sharedconfig "github.com/ideamans/plugingate/pkg/shared/config"
	"gopkg.in/yaml.v3"
)

// Loader is an interface for loading configuration
type Loader interface {
	Load() (*Config, error)
}

// FileLoader loads configuration from a YAML or JSON file. ${VAR} and
// ${VAR:-default} references are expanded before parsing.
type FileLoader struct {
	path string
}

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

func (l *FileLoader) Load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, l.path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	data = sharedconfig.ExpandEnvBytes(data)

	var cfg Config
	ext := strings.ToLower(filepath.Ext(l.path))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// EnvLoader builds a configuration from the process environment alone.
// It is used when no configuration file is given.
type EnvLoader struct {
	lookup func(string) (string, bool)
}

func NewEnvLoader() *EnvLoader {
	return &EnvLoader{lookup: os.LookupEnv}
}

func (l *EnvLoader) Load() (*Config, error) {
	get := func(key string) string {
		v, _ := l.lookup(key)
		return v
	}

	var cfg Config
	cfg.OAuth2.ClientID = get("GOOGLE_CLIENT_ID")
	cfg.OAuth2.ClientSecret = get("GOOGLE_CLIENT_SECRET")
	cfg.OAuth2.CallbackURL = get("CALLBACK_URL")
	cfg.Session.Secret = get("SESSION_SECRET")
	cfg.Server.BaseURL = get("BASE_URL")

	if v := get("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := get("ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}
	if v := get("ALLOWED_USERS"); v != "" {
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.Authorization.Allowed = append(cfg.Authorization.Allowed, u)
			}
		}
	}
	if v := get("TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUST_PROXY %q: %w", v, err)
		}
		cfg.RateLimit.TrustProxyHeaders = trust
	}
	if v := get("REDIS_URL"); v != "" {
		cfg.KVS.Default.Type = "redis"
		cfg.KVS.Default.Redis.Addr = v
	}
	cfg.Logging.Level = get("LOG_LEVEL")

	applyDefaults(&cfg)
	if v := environment(l.lookup); v != "" {
		cfg.Server.Environment = v
	}
	return &cfg, nil
}

// environment reads NODE_ENV, then ENV.
func environment(lookup func(string) (string, bool)) string {
	for _, key := range []string{"NODE_ENV", "ENV"} {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
	}
	return ""
}

// Load reads path when it is set and the environment otherwise, then
// validates the result.
func Load(path string) (*Config, error) {
	var loader Loader = NewEnvLoader()
	if path != "" {
		loader = NewFileLoader(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "Figma OAuth Backend Server"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = EnvProduction
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"https://www.figma.com"}
	}

	if cfg.OAuth2.Provider == "" {
		cfg.OAuth2.Provider = ProviderGoogle
	}
	if cfg.OAuth2.CallbackURL == "" {
		cfg.OAuth2.CallbackURL = cfg.Server.GetBaseURL() + "/auth/google/callback"
	}

	if cfg.Session.TTL == "" {
		cfg.Session.TTL = "24h"
	}
	if cfg.Session.CleanupInterval == "" {
		cfg.Session.CleanupInterval = "1h"
	}
	if cfg.Session.InitiationTTL == "" {
		cfg.Session.InitiationTTL = "10m"
	}
	if cfg.Session.Cookie.Name == "" {
		cfg.Session.Cookie.Name = "plugingate_init"
	}
	if cfg.Session.Cookie.SameSite == "" {
		cfg.Session.Cookie.SameSite = "lax"
	}

	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 60
	}
	if cfg.RateLimit.Interval == "" {
		cfg.RateLimit.Interval = "1m"
	}

	if cfg.KVS.Default.Type == "" {
		cfg.KVS.Default.Type = "memory"
	}
	cfg.KVS.Namespaces.SetDefaults()

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
