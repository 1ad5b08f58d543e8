package app

import (
	"fmt"

	"github.com/blackwell-systems/d20meter/internal/output"
	"github.com/blackwell-systems/d20meter/internal/transfer"
	"github.com/spf13/cobra"
)

var (
	transferFrom string
	transferTo   string
)

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Move one user's sessions and rolls to another user",
	Long: `Merge every session and roll stored for one user into another user's
log, then delete the source. The source must not have an active session.

Without --from and --to, lists the users that can be moved and the users
that can receive them.

Examples:
  d20meter transfer                              # list candidates
  d20meter transfer --from u-old --to u-new      # move u-old's data to u-new`,
	Args: cobra.NoArgs,
	RunE: runTransfer,
}

func init() {
	transferCmd.Flags().StringVar(&transferFrom, "from", "", "User id whose data is moved")
	transferCmd.Flags().StringVar(&transferTo, "to", "", "User id that receives the data")
	rootCmd.AddCommand(transferCmd)
}

func runTransfer(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	if transferFrom == "" && transferTo == "" {
		return printTransferCandidates(cmd, e)
	}
	if transferFrom == "" || transferTo == "" {
		return fmt.Errorf("both --from and --to are required")
	}
	return transfer.Transfer(ctx, e.db, e.dir, transferFrom, transferTo, e.notifier)
}

func printTransferCandidates(cmd *cobra.Command, e *env) error {
	ctx := cmd.Context()
	sources, err := transfer.Sources(ctx, e.db, e.dir)
	if err != nil {
		return fmt.Errorf("listing sources: %w", err)
	}
	dests, err := transfer.Destinations(ctx, e.db, e.dir)
	if err != nil {
		return fmt.Errorf("listing destinations: %w", err)
	}

	w := cmd.OutOrStdout()
	if flagJSON {
		return writeJSON(w, map[string]any{"sources": sources, "destinations": dests})
	}

	for _, group := range []struct {
		title string
		list  []transfer.Candidate
	}{
		{"Users with data", sources},
		{"Possible destinations", dests},
	} {
		fmt.Fprintln(w, output.Section(group.title))
		if len(group.list) == 0 {
			fmt.Fprintln(w, " "+output.StyleMuted.Render("none"))
			continue
		}
		tbl := output.NewTable("ID", "Name")
		for _, c := range group.list {
			tbl.AddRow(c.ID, c.Name)
		}
		tbl.Print(w)
	}
	return nil
}
