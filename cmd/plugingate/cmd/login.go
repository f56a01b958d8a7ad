package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/ideamans/plugingate/pkg/plugin"
	"github.com/ideamans/plugingate/pkg/token"
)

var forceLogin bool

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in through the browser, as the plugin would",
	Long: `Open the backend's login page in a browser and wait until the login
completes, then store the token in the local credential store.

The command polls the backend every --poll-interval and gives up after
--timeout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return login(ctx, cmd.OutOrStdout(), hostOptionsFromFlags(), forceLogin)
	},
}

func init() {
	addPluginFlags(loginCmd)
	loginCmd.Flags().BoolVarP(&forceLogin, "force", "f", false, "Log in again even with a stored credential")
	rootCmd.AddCommand(loginCmd)
}

// openBrowser starts the platform's URL handler without waiting for it.
var openBrowser = func(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func login(ctx context.Context, out io.Writer, opts hostOptions, force bool) error {
	h, err := startPluginHost(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	if !force {
		if err := h.Send(ctx, plugin.Message{Type: plugin.MsgCheckAuth}); err != nil {
			return err
		}
		m, err := h.await(ctx, ofType(plugin.MsgAuthStateChanged))
		if err != nil {
			return interruptedOr(err)
		}
		if m.Authenticated && m.UserProfile != nil {
			fmt.Fprintf(out, "%s Already logged in as %s\n", text.FgGreen.Sprint("✓"), describe(m.UserProfile))
			fmt.Fprintln(out, "Use --force to log in again.")
			return nil
		}
	}

	sessionID, err := token.NewSessionID()
	if err != nil {
		return err
	}
	loginURL := h.client.LoginURL(sessionID)

	if err := openBrowser(loginURL); err != nil {
		fmt.Fprintln(out, "Could not open browser automatically.")
		fmt.Fprintf(out, "\nPlease open this URL in your browser:\n  %s\n\n", loginURL)
	} else {
		fmt.Fprintf(out, "Opening browser for authentication...\n  %s\n\n", loginURL)
	}

	if err := h.Send(ctx, plugin.Message{Type: plugin.MsgStartPolling, SessionID: sessionID}); err != nil {
		return err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	s.Suffix = " Waiting for authentication to complete..."
	s.Start()
	m, err := h.await(ctx, ofType(plugin.MsgLoginSuccess, plugin.MsgLoginError))
	s.Stop()

	if err != nil {
		return interruptedOr(err)
	}
	if m.Type == plugin.MsgLoginError {
		return fmt.Errorf("login failed: %s", m.Error)
	}

	fmt.Fprintf(out, "%s Logged in as %s\n", text.FgGreen.Sprint("✓"), describe(m.UserProfile))
	return nil
}

// describe renders a profile as "Name <email>".
func describe(p *plugin.Profile) string {
	if p == nil {
		return "unknown user"
	}
	name := p.DisplayName
	if name == "" {
		name = p.Name
	}
	if p.Email == "" {
		return name
	}
	return fmt.Sprintf("%s <%s>", name, p.Email)
}
