package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ideamans/plugingate/cmd/plugingate/cmd/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the login backend",
	Long: `Start the plugingate backend with the specified configuration.

The server will:
- Load .env, then the configuration file or the environment
- Initialize storage (memory, LevelDB or Redis)
- Set up the OAuth2 provider
- Serve the login, callback, status and logout endpoints
- Reload the configuration file when it changes
- Handle graceful shutdown on SIGTERM/SIGINT`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	return server.Run(cmd.Context(), server.Config{
		ConfigPath: cfgFile,
		Host:       host,
		Port:       port,
		HostSet:    cmd.Flags().Changed("host"),
		PortSet:    cmd.Flags().Changed("port"),
		DotEnv:     []string{".env"},
		Version:    version,
	})
}
