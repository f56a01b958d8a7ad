package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/ideamans/plugingate/pkg/plugin"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the stored token and forget it",
	Long: `Ask the backend to drop the session of the stored token, then delete
the local credential. The local credential is deleted even when the backend
cannot be reached.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return logout(cmd.Context(), cmd.OutOrStdout(), hostOptionsFromFlags())
	},
}

func init() {
	addPluginFlags(logoutCmd)
	rootCmd.AddCommand(logoutCmd)
}

// logoutWait covers the core's own backend timeout.
const logoutWait = 15 * time.Second

func logout(ctx context.Context, out io.Writer, opts hostOptions) error {
	h, err := startPluginHost(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	ctx, cancel := context.WithTimeout(ctx, logoutWait)
	defer cancel()

	if err := h.Send(ctx, plugin.Message{Type: plugin.MsgLogout}); err != nil {
		return err
	}
	m, err := h.await(ctx, func(m plugin.Message) bool {
		return m.Type == plugin.MsgLogoutError || (m.Type == plugin.MsgAuthStateChanged && !m.Authenticated)
	})
	if err != nil {
		return err
	}
	if m.Type == plugin.MsgLogoutError {
		return errors.New(m.Error)
	}

	fmt.Fprintf(out, "%s Logged out\n", text.FgGreen.Sprint("✓"))
	return nil
}
