package app

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/blackwell-systems/d20meter/internal/analyzer"
	"github.com/blackwell-systems/d20meter/internal/output"
	"github.com/blackwell-systems/d20meter/internal/roll"
	"github.com/spf13/cobra"
)

// filterFlags are the axis selections shared by histogram and timeline.
type filterFlags struct {
	owner    string
	users    []string
	types    []string
	domains  []string
	sessions []string
	versus   bool
}

var (
	histFilter filterFlags
	histFace   int
)

var histogramCmd = &cobra.Command{
	Use:     "histogram",
	Aliases: []string{"hist"},
	Short:   "Per-face outcome histogram with filters",
	Long: `Show, for each d20 face, how many recorded rolls landed in each outcome
category: critical failure, failure, success, critical success, or unknown.

Filters narrow the rolls counted. Listing values on an axis keeps only those
values; domains are required tags (a roll must carry every listed domain).
By default you see your own rolls, or everyone's if you are a game master.

Examples:
  d20meter histogram                               # all sessions, default users
  d20meter histogram --user u-alice --user u-bob   # just these two players
  d20meter histogram --type attack-roll            # attacks only
  d20meter histogram --versus --user u-alice       # rolls made against Alice
  d20meter histogram --session 3f2a...             # one session
  d20meter histogram --face 20                     # per-roll detail for nat 20s`,
	Args: cobra.NoArgs,
	RunE: runHistogram,
}

func init() {
	addFilterFlags(histogramCmd, &histFilter)
	histogramCmd.Flags().IntVar(&histFace, "face", 0, "Show per-roll detail for one die face (1-20)")
	rootCmd.AddCommand(histogramCmd)
}

func addFilterFlags(cmd *cobra.Command, f *filterFlags) {
	cmd.Flags().StringVar(&f.owner, "owner", "", "Read another user's log (default: current user)")
	cmd.Flags().StringSliceVar(&f.users, "user", nil, "Only count these user ids (repeatable)")
	cmd.Flags().StringSliceVar(&f.types, "type", nil, "Only count these check types (repeatable)")
	cmd.Flags().StringSliceVar(&f.domains, "domain", nil, "Require these domain tags (repeatable)")
	cmd.Flags().StringSliceVar(&f.sessions, "session", nil, "Only count these session ids (repeatable)")
	cmd.Flags().BoolVar(&f.versus, "versus", false, "Match users against the opposing side instead of the roller")
}

// spec returns the initial filter. Domain and session selections are known
// up front; user and type restrictions need the accrued axes and are
// applied by restrict.
func (f filterFlags) spec() analyzer.FilterSpec {
	spec := analyzer.NewFilterSpec()
	spec.Versus = f.versus
	for _, d := range f.domains {
		spec.Domains[d] = true
	}
	if len(f.sessions) > 0 {
		spec.Sessions[roll.AllSessions] = false
		for _, s := range f.sessions {
			spec.Sessions[s] = true
		}
	}
	return spec
}

// restrict narrows the user and type axes of an accrued filter to the
// listed values. It reports whether anything was restricted.
func (f filterFlags) restrict(spec *analyzer.FilterSpec) bool {
	changed := false
	for _, axis := range []struct {
		m    map[string]bool
		keep []string
	}{
		{spec.Users, f.users},
		{spec.Types, f.types},
	} {
		if len(axis.keep) == 0 {
			continue
		}
		for k := range axis.m {
			axis.m[k] = slices.Contains(axis.keep, k)
		}
		for _, k := range axis.keep {
			axis.m[k] = true
		}
		changed = true
	}
	return changed
}

func (f filterFlags) ownerOr(def string) string {
	if f.owner != "" {
		return f.owner
	}
	return def
}

// aggregate runs the histogram pass, feeding the accrued filter back in
// once user or type restrictions have been applied.
func aggregate(log *roll.Log, f filterFlags, viewer analyzer.Viewer) analyzer.Result {
	res := analyzer.Aggregate(log, f.spec(), viewer)
	if f.restrict(&res.Filter) {
		res = analyzer.Aggregate(log, res.Filter, viewer)
	}
	return res
}

func runHistogram(cmd *cobra.Command, args []string) error {
	if histFace != 0 && (histFace < roll.MinFace || histFace > roll.MaxFace) {
		return fmt.Errorf("--face must be between %d and %d, got %d", roll.MinFace, roll.MaxFace, histFace)
	}

	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	log, err := e.db.Read(cmd.Context(), histFilter.ownerOr(e.owner))
	if err != nil {
		return fmt.Errorf("reading roll log: %w", err)
	}
	res := aggregate(log, histFilter, e.viewer())

	w := cmd.OutOrStdout()
	if flagJSON {
		if histFace != 0 {
			return writeJSON(w, res.Face(histFace))
		}
		return writeJSON(w, res)
	}
	if histFace != 0 {
		renderFaceDetail(w, res.Face(histFace))
		return nil
	}
	renderHistogram(w, res, e.cfg.Output.Width)
	return nil
}

// renderHistogram prints one stacked bar per face, highest face first, and
// the state of every filter axis.
func renderHistogram(w io.Writer, res analyzer.Result, width int) {
	fmt.Fprintln(w, output.Section(fmt.Sprintf("Rolls by face (%d)", res.Total)))
	if res.Total == 0 {
		fmt.Fprintln(w, " "+output.StyleMuted.Render("No rolls match the current filters."))
		renderAxes(w, res)
		return
	}

	peak := 0
	for _, f := range res.Faces {
		peak = max(peak, len(f.Rolls))
	}
	barWidth := max(width-40, 10)

	headers := []string{"Face", "Total"}
	for _, d := range roll.Degrees() {
		headers = append(headers, output.DegreeLabel(d))
	}
	headers = append(headers, "")
	tbl := output.NewTable(headers...)
	for die := roll.MaxFace; die >= roll.MinFace; die-- {
		face := res.Face(die)
		counts := make(map[roll.Degree]int, len(face.Buckets))
		row := []string{strconv.Itoa(die), strconv.Itoa(len(face.Rolls))}
		for _, d := range roll.Degrees() {
			n := face.Count(d)
			counts[d] = n
			row = append(row, countCell(n))
		}
		row = append(row, output.StackedBar(counts, peak, barWidth))
		tbl.AddRow(row...)
	}
	tbl.Print(w)
	fmt.Fprintln(w, output.Legend())
	renderAxes(w, res)
}

func countCell(n int) string {
	if n == 0 {
		return output.StyleMuted.Render("-")
	}
	return strconv.Itoa(n)
}

func renderAxes(w io.Writer, res analyzer.Result) {
	fmt.Fprintln(w, output.Section("Filters"))
	axes := []struct {
		label string
		opts  []analyzer.Option
	}{
		{"Users", res.Users},
		{"Types", res.Types},
		{"Domains", res.Domains},
	}
	for _, a := range axes {
		fmt.Fprintf(w, " %s %s\n", output.StyleLabel.Render(a.label), optionList(a.opts))
	}
	sessions := make([]analyzer.Option, 0, len(res.Sessions))
	for _, s := range res.Sessions {
		sessions = append(sessions, s.Option)
	}
	fmt.Fprintf(w, " %s %s\n", output.StyleLabel.Render("Sessions"), optionList(sessions))
	if res.Filter.Versus {
		fmt.Fprintf(w, " %s %s\n", output.StyleLabel.Render("Mode"), "versus")
	}
}

// optionList renders enabled options plainly and disabled ones muted.
func optionList(opts []analyzer.Option) string {
	if len(opts) == 0 {
		return output.StyleMuted.Render("none")
	}
	parts := make([]string, 0, len(opts))
	for _, o := range opts {
		label := o.Name
		if label == "" {
			label = o.Key
		}
		if o.Enabled {
			parts = append(parts, output.StyleBold.Render(label))
		} else {
			parts = append(parts, output.StyleMuted.Render(label))
		}
	}
	return strings.Join(parts, ", ")
}

// renderFaceDetail lists the tooltip entries for every bucket of one face.
func renderFaceDetail(w io.Writer, face analyzer.Face) {
	fmt.Fprintln(w, output.Section(fmt.Sprintf("Face %d (%d rolls)", face.Die, len(face.Rolls))))
	if len(face.Rolls) == 0 {
		fmt.Fprintln(w, " "+output.StyleMuted.Render("No rolls match the current filters."))
		return
	}
	tbl := output.NewTable("Outcome", "Needed", "Who", "Type")
	for _, d := range roll.Degrees() {
		b, ok := face.Buckets[d]
		if !ok {
			continue
		}
		for _, t := range b.Tooltip {
			needed := ""
			if t.Needed != nil {
				needed = strconv.Itoa(*t.Needed)
			}
			tbl.AddRow(output.DegreeStyle(d).Render(output.DegreeLabel(d)), needed, t.Name, t.Type)
		}
	}
	tbl.Print(w)
}
