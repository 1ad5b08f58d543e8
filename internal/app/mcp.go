package app

import (
	"os"

	"github.com/blackwell-systems/d20meter/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run an MCP stdio server over the roll log",
	Long: `Start a Model Context Protocol stdio server so an assistant can manage
capture and query the roll log. The server exposes:

  get_status                Capture state and record counts
  create_session            Open a new session
  start_logging             Turn logging on
  stop_logging              Turn logging off
  end_session               Close the active session
  erase_data                Delete the current user's data (confirm required)
  list_transfer_candidates  Users that can be moved and receive data
  transfer                  Move one user's data to another (confirm required)
  aggregate                 Per-face outcome histogram with filters
  timeline                  Per-session outcome summaries
  ingest_event              Run one engine event through capture

Add to an MCP client configuration:
  {"mcpServers":{"d20meter":{"command":"d20meter","args":["mcp"]}}}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	srv := mcp.NewServer(mcp.Deps{
		Store:     e.db,
		Sessions:  e.sessions,
		Pipeline:  e.pipeline,
		Directory: e.dir,
		Notifier:  e.notifier,
		Viewer:    e.viewer(),
		Logger:    e.logger,
		Version:   appVersion,
	})
	return srv.Run(cmd.Context(), os.Stdin, os.Stdout)
}
