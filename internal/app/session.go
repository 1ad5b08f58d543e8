package app

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/blackwell-systems/d20meter/internal/output"
	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, start, stop, end, and list logging sessions",
	Long: `Manage the capture lifecycle for the current user.

A session is a bounded capture window. Rolls are only recorded while
logging is on; with more than one player connected, logging starts by
itself when the first roll arrives.

Examples:
  d20meter session create    # open a new session (logging state unchanged)
  d20meter session start     # turn logging on, creating a session if needed
  d20meter session stop      # pause logging, keep the session open
  d20meter session end       # stop logging and close the session
  d20meter session list      # list stored sessions`,
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new session and make it active",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessionEnv(cmd, func(e *env) error {
			_, err := e.sessions.CreateSession(cmd.Context())
			return err
		})
	},
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Turn logging on",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessionEnv(cmd, func(e *env) error {
			_, err := e.sessions.StartLogging(cmd.Context())
			return err
		})
	},
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Turn logging off and keep the session open",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessionEnv(cmd, func(e *env) error {
			return e.sessions.StopLogging(cmd.Context())
		})
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "Turn logging off and close the active session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessionEnv(cmd, func(e *env) error {
			return e.sessions.EndSession(cmd.Context())
		})
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

func init() {
	sessionCmd.AddCommand(sessionCreateCmd, sessionStartCmd, sessionStopCmd, sessionEndCmd, sessionListCmd)
	rootCmd.AddCommand(sessionCmd)
}

// withSessionEnv runs a lifecycle transition and reports the resulting state.
func withSessionEnv(cmd *cobra.Command, fn func(e *env) error) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := fn(e); err != nil {
		return err
	}

	state := struct {
		SessionID string `json:"session_id,omitempty"`
		Capturing bool   `json:"capturing"`
	}{e.sessions.ActiveSessionID(), e.sessions.Capturing()}
	if flagJSON {
		return writeJSON(cmd.OutOrStdout(), state)
	}
	active := state.SessionID
	if active == "" {
		active = "none"
	}
	logging := "off"
	if state.Capturing {
		logging = "on"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session: %s  logging: %s\n", active, logging)
	return nil
}

// sessionRow is one line of the session listing.
type sessionRow struct {
	ID      string     `json:"id"`
	Started time.Time  `json:"started"`
	Ended   *time.Time `json:"ended,omitempty"`
	Active  bool       `json:"active"`
	Rolls   int        `json:"rolls"`
}

func listSessions(log *roll.Log) []sessionRow {
	counts := make(map[string]int)
	for _, bucket := range log.Rolls {
		for _, rec := range bucket {
			counts[rec.Session]++
		}
	}

	rows := make([]sessionRow, 0, len(log.Sessions))
	for id, s := range log.Sessions {
		rows = append(rows, sessionRow{
			ID:      id,
			Started: s.Started,
			Ended:   s.Ended,
			Active:  id == log.ActiveSessionID,
			Rolls:   counts[id],
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Started.Equal(rows[j].Started) {
			return rows[i].Started.After(rows[j].Started)
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

func runSessionList(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	log, err := e.db.Read(cmd.Context(), e.owner)
	if err != nil {
		return fmt.Errorf("reading roll log: %w", err)
	}
	rows := listSessions(log)

	w := cmd.OutOrStdout()
	if flagJSON {
		return writeJSON(w, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}

	fmt.Fprintln(w, output.Section(fmt.Sprintf("Sessions (%d)", len(rows))))
	tbl := output.NewTable("", "Session", "Started", "Ended", "Rolls")
	for _, r := range rows {
		marker := ""
		if r.Active {
			marker = output.StyleSuccess.Render("*")
		}
		ended := output.StyleMuted.Render("-")
		if r.Ended != nil {
			ended = r.Ended.Local().Format("2006-01-02 15:04")
		}
		tbl.AddRow(marker, r.ID, formatStarted(r.Started), ended, strconv.Itoa(r.Rolls))
	}
	tbl.Print(w)
	return nil
}

func formatStarted(t time.Time) string {
	if t.IsZero() {
		return output.StyleMuted.Render("unknown")
	}
	return t.Local().Format("2006-01-02 15:04")
}
