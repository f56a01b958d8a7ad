package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/ideamans/plugingate/pkg/plugin"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the stored login",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return whoami(cmd.Context(), cmd.OutOrStdout(), hostOptionsFromFlags())
	},
}

func init() {
	addPluginFlags(whoamiCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func whoami(ctx context.Context, out io.Writer, opts hostOptions) error {
	h, err := startPluginHost(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	if err := h.Send(ctx, plugin.Message{Type: plugin.MsgCheckAuth}); err != nil {
		return err
	}
	m, err := h.await(ctx, ofType(plugin.MsgAuthStateChanged))
	if err != nil {
		return err
	}

	if !m.Authenticated {
		fmt.Fprintf(out, "%s Not logged in. Run 'plugingate login'.\n", text.FgYellow.Sprint("!"))
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("FIELD"), text.FgHiCyan.Sprint("VALUE")})

	p := m.UserProfile
	if p == nil {
		p = &plugin.Profile{}
	}
	t.AppendRows([]table.Row{
		{"ID", p.ID},
		{"Name", p.DisplayName},
		{"Email", p.Email},
		{"Backend", opts.BackendURL},
	})
	if m.MaskedToken != "" {
		t.AppendRow(table.Row{"Token", m.MaskedToken})
	}
	t.Render()
	return nil
}
