package app

import (
	"fmt"
	"strconv"

	"github.com/blackwell-systems/d20meter/internal/analyzer"
	"github.com/blackwell-systems/d20meter/internal/output"
	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/spf13/cobra"
)

var timelineFilter filterFlags

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Per-session outcome summary",
	Long: `Summarize each session's rolls, oldest session first: outcome counts,
mean natural die, and natural 1s and 20s. Accepts the same filters as
histogram; users and types not listed count by default.`,
	Args: cobra.NoArgs,
	RunE: runTimeline,
}

func init() {
	addFilterFlags(timelineCmd, &timelineFilter)
	rootCmd.AddCommand(timelineCmd)
}

func runTimeline(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	log, err := e.db.Read(cmd.Context(), timelineFilter.ownerOr(e.owner))
	if err != nil {
		return fmt.Errorf("reading roll log: %w", err)
	}

	spec := timelineFilter.spec()
	if len(timelineFilter.users) > 0 || len(timelineFilter.types) > 0 {
		spec = analyzer.Aggregate(log, spec, analyzer.Viewer{Privileged: true}).Filter
		timelineFilter.restrict(&spec)
	}
	summaries := analyzer.Timeline(log, spec)

	w := cmd.OutOrStdout()
	if flagJSON {
		return writeJSON(w, summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}

	fmt.Fprintln(w, output.Section(fmt.Sprintf("Timeline (%d sessions)", len(summaries))))
	headers := []string{"Session", "Started", "Rolls", "Mean", "Nat 1", "Nat 20"}
	for _, d := range roll.Degrees() {
		headers = append(headers, output.DegreeLabel(d))
	}
	tbl := output.NewTable(headers...)
	for _, s := range summaries {
		started := output.StyleMuted.Render("unknown")
		if s.Started != nil {
			started = formatStarted(*s.Started)
		}
		id := s.ID
		if id == "" {
			id = output.StyleMuted.Render("(none)")
		}
		row := []string{
			id,
			started,
			strconv.Itoa(s.Total),
			fmt.Sprintf("%.1f", s.MeanDie),
			countCell(s.Nat1),
			countCell(s.Nat20),
		}
		for _, d := range roll.Degrees() {
			row = append(row, countCell(s.Counts[d]))
		}
		tbl.AddRow(row...)
	}
	tbl.Print(w)
	return nil
}
