// Package app contains the Cobra command tree for d20meter.
package app

import (
	"fmt"
	"os"

	"github.com/blackwell-systems/d20meter/internal/output"
	"github.com/spf13/cobra"
)

var appVersion = "dev"

// SetVersion sets the application version (called from main with ldflags value).
func SetVersion(v string) {
	appVersion = v
	rootCmd.Version = v
}

var (
	flagNoColor bool
	flagJSON    bool
	flagVerbose bool
	flagConfig  string
)

var rootCmd = &cobra.Command{
	Use:   "d20meter",
	Short: "Capture and chart d20 rolls from a virtual tabletop",
	Long: `d20meter records every d20 check your table makes during a session and
shows how the dice have treated each player: per-face outcome histograms,
filters by player, check type and session, and a per-session timeline.

Run 'd20meter' with no arguments to see the current capture status.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		output.AutoColor(flagNoColor)
	},
	RunE: runStatus,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: ~/.config/d20meter/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	log, err := e.db.Read(cmd.Context(), e.owner)
	if err != nil {
		return fmt.Errorf("reading roll log: %w", err)
	}

	w := cmd.OutOrStdout()
	if flagJSON {
		return writeJSON(w, map[string]any{
			"owner":             e.owner,
			"active_session_id": e.sessions.ActiveSessionID(),
			"capturing":         e.sessions.Capturing(),
			"sessions":          len(log.Sessions),
			"records":           log.RecordCount(),
		})
	}

	state := output.StyleMuted.Render("stopped")
	if e.sessions.Capturing() {
		state = output.StyleSuccess.Render("capturing")
	}
	active := e.sessions.ActiveSessionID()
	if active == "" {
		active = "none"
	}
	fmt.Fprintln(w, "d20meter", appVersion)
	fmt.Fprintln(w)
	fmt.Fprintf(w, " %s %s\n", output.StyleLabel.Render("Owner"), e.displayName(e.owner))
	fmt.Fprintf(w, " %s %s\n", output.StyleLabel.Render("Logging"), state)
	fmt.Fprintf(w, " %s %s\n", output.StyleLabel.Render("Active session"), active)
	fmt.Fprintf(w, " %s %d sessions, %d rolls\n", output.StyleLabel.Render("Stored"), len(log.Sessions), log.RecordCount())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Use a subcommand:")
	fmt.Fprintln(w, "  session    Create, start, stop, end, and list logging sessions")
	fmt.Fprintln(w, "  histogram  Per-face outcome histogram with filters")
	fmt.Fprintln(w, "  timeline   Per-session outcome summary")
	fmt.Fprintln(w, "  watch      Follow an event feed and record rolls")
	fmt.Fprintln(w, "  ingest     Record rolls from an event file")
	fmt.Fprintln(w, "  transfer   Move one user's data to another user")
	fmt.Fprintln(w, "  erase      Delete your sessions and rolls")
	return nil
}
