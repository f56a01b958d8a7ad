package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ideamans/plugingate/pkg/config"
	"github.com/ideamans/plugingate/pkg/factory"
	sharedconfig "github.com/ideamans/plugingate/pkg/shared/config"
	"github.com/ideamans/plugingate/pkg/shared/filewatcher"
	"github.com/ideamans/plugingate/pkg/shared/logging"
)

const (
	shutdownTimeout = 30 * time.Second
	reloadDebounce  = 100 * time.Millisecond
)

// Config represents the configuration for running the server
type Config struct {
	ConfigPath string // empty reads the environment
	Host       string // From command-line flag
	Port       int    // From command-line flag
	HostSet    bool   // Whether host was explicitly set via flag
	PortSet    bool   // Whether port was explicitly set via flag
	DotEnv     []string
	Logger     logging.Logger // nil builds one from the logging section
	Factory    factory.Factory
	Version    string

	// Ready, when set, receives the bound address once the server accepts
	// connections.
	Ready func(addr string)
}

// Run starts the server and blocks until ctx is done, SIGINT or SIGTERM
// arrives, or the listener fails.
func Run(ctx context.Context, cfg Config) error {
	if err := sharedconfig.LoadDotEnv(cfg.DotEnv...); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	appCfg, path, err := loadConfig(cfg)
	if err != nil {
		return FormatConfigError("server", err)
	}

	logger := cfg.Logger
	if logger == nil {
		l, err := logging.NewLoggerWithFile("main", logging.ParseLevel(appCfg.Logging.Level), appCfg.Logging.Color, appCfg.Logging.RotationConfig())
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		logger = l
	}

	logger.Info("Starting plugingate", "version", cfg.Version, "environment", appCfg.Server.Environment)
	if path == "" {
		logger.Info("No config file, configuration read from the environment")
	}

	f := cfg.Factory
	if f == nil {
		f = factory.NewDefaultFactory(logger)
	}

	stores, err := f.CreateKVSStores(appCfg)
	if err != nil {
		return FormatConfigError("kvs", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Error("Failed to close KVS stores", "error", err)
		}
	}()

	sessions, err := f.CreateSessionStore(appCfg, stores.Session)
	if err != nil {
		return FormatConfigError("session", err)
	}
	defer func() { _ = sessions.Close() }()

	manager, err := NewServerManager(ctx, appCfg, cfg, f, stores, sessions, logger)
	if err != nil {
		return FormatConfigError("server", err)
	}

	sigCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Create file watcher for hot reload only if a config file is in use
	if path != "" {
		watcher, err := filewatcher.NewWatcher(path, reloadDebounce)
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		defer func() { _ = watcher.Close() }()
		watcher.AddListener(manager)

		go func() {
			if err := watcher.Start(sigCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("File watcher error", "error", err)
			}
		}()
		logger.Info("File watcher initialized for hot reload", "config_file", path)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	ln, err := net.Listen("tcp", appCfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", appCfg.Server.Addr(), err)
	}

	srv := &http.Server{
		Handler:           manager.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Starting server", "addr", ln.Addr().String(), "base_url", appCfg.Server.GetBaseURL())

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		} else {
			errChan <- nil
		}
	}()

	if cfg.Ready != nil {
		cfg.Ready(ln.Addr().String())
	}

	select {
	case <-stop:
		logger.Info("Shutdown signal received, stopping server...")
	case <-ctx.Done():
		logger.Info("Context cancelled, stopping server...")
	case err := <-errChan:
		if err != nil {
			logger.Error("Server stopped with error", "error", err)
		}
		return err
	}
	cancel()

	// Health checks report 503 while in-flight requests finish
	manager.SetDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if err := <-errChan; err != nil {
		logger.Error("Server stopped with error", "error", err)
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// loadConfig loads cfg.ConfigPath, or the environment when the path is
// empty or the file does not exist, and applies the command-line flags.
// It returns the path actually read.
func loadConfig(cfg Config) (*config.Config, string, error) {
	path := cfg.ConfigPath
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}

	var (
		appCfg *config.Config
		err    error
	)
	if path != "" {
		appCfg, err = config.NewFileLoader(path).Load()
	} else {
		appCfg, err = config.NewEnvLoader().Load()
	}
	if err != nil {
		return nil, "", err
	}

	applyFlags(appCfg, cfg)

	if err := appCfg.Validate(); err != nil {
		return nil, "", err
	}
	return appCfg, path, nil
}

// applyFlags overrides host and port. Priority: command-line flags >
// config file > defaults. A callback URL derived from the old address
// follows the new one.
func applyFlags(appCfg *config.Config, cfg Config) {
	derived := appCfg.Server.GetBaseURL() + "/auth/google/callback"

	if cfg.HostSet {
		appCfg.Server.Host = cfg.Host
	}
	if cfg.PortSet {
		appCfg.Server.Port = cfg.Port
	}

	if appCfg.OAuth2.CallbackURL == derived {
		appCfg.OAuth2.CallbackURL = appCfg.Server.GetBaseURL() + "/auth/google/callback"
	}
}

// FormatConfigError formats configuration errors with helpful messages
func FormatConfigError(component string, err error) error {
	var validationErr *config.ValidationError
	if errors.As(err, &validationErr) {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Configuration validation failed for %s with %d error(s):\n\n", component, len(validationErr.Errors)))
		for i, e := range validationErr.Errors {
			sb.WriteString(fmt.Sprintf("  %d. %v\n", i+1, e))
		}
		sb.WriteString("\nPlease fix the errors above in your configuration file or environment.")
		return errors.New(sb.String())
	}

	if errors.Is(err, config.ErrClientIDRequired) ||
		errors.Is(err, config.ErrClientSecretRequired) ||
		errors.Is(err, config.ErrSessionSecretRequired) ||
		errors.Is(err, config.ErrSessionSecretTooShort) ||
		errors.Is(err, config.ErrUnknownProvider) ||
		errors.Is(err, config.ErrIssuerURLRequired) {
		return fmt.Errorf("configuration validation error in %s: %v - please check your configuration file and fix the issue above", component, err)
	}

	if errors.Is(err, config.ErrConfigFileNotFound) {
		return fmt.Errorf("configuration file not found: %v - please create a configuration file or specify the correct path with --config flag", err)
	}

	return fmt.Errorf("failed to initialize %s: %v", component, err)
}
