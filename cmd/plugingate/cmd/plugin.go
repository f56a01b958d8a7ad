package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ideamans/plugingate/pkg/plugin"
	"github.com/ideamans/plugingate/pkg/shared/kvs"
	"github.com/ideamans/plugingate/pkg/shared/logging"
)

// Flags shared by the commands that act as the plugin.
var (
	backendURL      string
	credentialsPath string
	pollInterval    time.Duration
	pollTimeout     time.Duration
	verbose         bool
)

func addPluginFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&backendURL, "backend", envOr("PLUGINGATE_BACKEND", "http://localhost:3000"), "Backend base URL")
	cmd.Flags().StringVar(&credentialsPath, "credentials", "", "Credential store directory (default: user config dir)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", plugin.DefaultPollInterval, "Interval between status polls")
	cmd.Flags().DurationVar(&pollTimeout, "timeout", plugin.DefaultPollMaxDuration, "Give up waiting for the browser login after this long")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log plugin activity")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// pluginHost runs a plugin core in the terminal. The command plays the UI:
// it sends messages with Send and reads replies from Messages.
type pluginHost struct {
	client   *plugin.HTTPClient
	notifier *plugin.ChannelNotifier
	core     *plugin.Core
	store    kvs.Store

	cancel context.CancelFunc
	done   chan error
}

type hostOptions struct {
	BackendURL      string
	CredentialsPath string
	PollInterval    time.Duration
	PollTimeout     time.Duration
	Logger          logging.Logger
}

func defaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "plugingate", "credentials")
}

func hostOptionsFromFlags() hostOptions {
	level := logging.LevelWarn
	if verbose {
		level = logging.LevelDebug
	}
	return hostOptions{
		BackendURL:      backendURL,
		CredentialsPath: credentialsPath,
		PollInterval:    pollInterval,
		PollTimeout:     pollTimeout,
		Logger:          logging.NewSimpleLoggerWithWriter("plugin", level, false, os.Stderr),
	}
}

// startPluginHost opens the credential store and starts the core loop.
func startPluginHost(ctx context.Context, opts hostOptions) (*pluginHost, error) {
	if opts.CredentialsPath == "" {
		opts.CredentialsPath = defaultCredentialsPath()
	}

	client, err := plugin.NewHTTPClient(plugin.ClientConfig{BaseURL: opts.BackendURL}, opts.Logger)
	if err != nil {
		return nil, err
	}

	store, err := kvs.NewLevelDBStore("", kvs.LevelDBConfig{Path: opts.CredentialsPath, SyncWrites: true, Private: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	h := &pluginHost{
		client:   client,
		notifier: plugin.NewChannelNotifier(16, opts.Logger),
		store:    store,
		done:     make(chan error, 1),
	}
	h.core = plugin.NewCore(client, plugin.NewCredentialCache(store), h.notifier, plugin.PollerConfig{
		Interval:    opts.PollInterval,
		MaxDuration: opts.PollTimeout,
	}, opts.Logger)

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	go func() { h.done <- h.core.Run(runCtx) }()
	return h, nil
}

// Close stops the core and closes the credential store.
func (h *pluginHost) Close() error {
	h.cancel()
	<-h.done
	return h.store.Close()
}

func (h *pluginHost) Send(ctx context.Context, m plugin.Message) error {
	return h.core.Send(ctx, m)
}

// await returns the first message accepted by match.
func (h *pluginHost) await(ctx context.Context, match func(plugin.Message) bool) (plugin.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return plugin.Message{}, ctx.Err()
		case m := <-h.notifier.C():
			if match(m) {
				return m, nil
			}
		}
	}
}

func ofType(types ...plugin.MessageType) func(plugin.Message) bool {
	return func(m plugin.Message) bool {
		for _, t := range types {
			if m.Type == t {
				return true
			}
		}
		return false
	}
}

// errInterrupted is returned when the user stops a command with Ctrl-C.
var errInterrupted = errors.New("interrupted")

func interruptedOr(err error) error {
	if errors.Is(err, context.Canceled) {
		return errInterrupted
	}
	return err
}
