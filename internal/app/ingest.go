package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/blackwell-systems/d20meter/internal/capture"
	"github.com/blackwell-systems/d20meter/internal/feed"
	"github.com/blackwell-systems/d20meter/internal/normalize"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file|-]",
	Short: "Record rolls from a file of engine events",
	Long: `Read engine chat events as JSON lines, one event per line, and run each
through the capture pipeline exactly as a live feed would: rolls are only
recorded while logging is on (or when enough players are present for it to
start by itself).

Each line is {"kind": "created"|"revised", "messageId": ..., "message": {...},
"delta": {...}}. Malformed lines are skipped with a warning.

Examples:
  d20meter ingest events.jsonl
  export-events | d20meter ingest -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

// tally accumulates capture results across a feed.
type tally struct {
	Events   int `json:"events"`
	Rolls    int `json:"rolls"`
	Recorded int `json:"recorded"`
	Dropped  int `json:"dropped"`
	Skipped  int `json:"skipped"`
}

func (t *tally) add(res capture.Result) {
	t.Events++
	if res.Shape != "" {
		t.Rolls++
	}
	t.Recorded += len(res.Recorded)
	t.Dropped += res.Dropped
	t.Skipped += res.Skipped
}

// recordHandler adapts the capture pipeline to a feed handler. onResult,
// when set, sees every result after it is tallied.
func recordHandler(p *capture.Pipeline, t *tally, onResult func(normalize.Event, capture.Result)) feed.Handler {
	return func(ctx context.Context, ev normalize.Event) error {
		res, err := p.Handle(ctx, ev)
		if err != nil {
			return err
		}
		t.add(res)
		if onResult != nil {
			onResult(ev, res)
		}
		return nil
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening events: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	var t tally
	if _, err := feed.Decode(cmd.Context(), r, recordHandler(e.pipeline, &t, nil), e.logger); err != nil {
		return fmt.Errorf("reading events: %w", err)
	}

	w := cmd.OutOrStdout()
	if flagJSON {
		return writeJSON(w, t)
	}
	fmt.Fprintf(w, "%d events, %d rolls: %d recorded, %d dropped", t.Events, t.Rolls, t.Recorded, t.Dropped)
	if t.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", t.Skipped)
	}
	fmt.Fprintln(w)
	return nil
}
