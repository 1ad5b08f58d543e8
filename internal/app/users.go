package app

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/blackwell-systems/d20meter/internal/identity"
	"github.com/blackwell-systems/d20meter/internal/output"
	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users from the roster snapshot",
	Long: `List the users in the identity roster with their presence, game master
flag, assigned character, and how many rolls are stored under their name.
The present-user count decides whether capture starts by itself.`,
	Args: cobra.NoArgs,
	RunE: runUsers,
}

func init() {
	rootCmd.AddCommand(usersCmd)
}

// userRow is one line of the user listing.
type userRow struct {
	identity.User
	Rolls int  `json:"rolls"`
	Owner bool `json:"owner"`
}

func runUsers(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	log, err := e.db.Read(cmd.Context(), e.owner)
	if err != nil {
		return fmt.Errorf("reading roll log: %w", err)
	}
	rolls := make(map[string]int)
	for _, bucket := range log.Rolls {
		for _, rec := range bucket {
			rolls[rec.RollerID]++
		}
	}

	users := e.dir.Users()
	rows := make([]userRow, 0, len(users))
	for _, u := range users {
		rows = append(rows, userRow{User: u, Rolls: rolls[u.ID], Owner: u.ID == e.owner})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	w := cmd.OutOrStdout()
	if flagJSON {
		return writeJSON(w, rows)
	}

	fmt.Fprintln(w, output.Section(fmt.Sprintf("Users (%d present)", identity.PresentUsers(e.dir))))
	if len(rows) == 0 {
		fmt.Fprintln(w, " "+output.StyleMuted.Render("Roster is empty; rolls are attributed to the GM."))
		return nil
	}
	tbl := output.NewTable("", "ID", "Name", "Role", "Character", "Rolls")
	for _, r := range rows {
		marker := ""
		if r.Active {
			marker = output.StyleSuccess.Render("●")
		}
		role := "player"
		if r.GM {
			role = "GM"
		}
		if r.Owner {
			role += " (you)"
		}
		tbl.AddRow(marker, r.ID, r.Name, role, r.CharacterID, strconv.Itoa(r.Rolls))
	}
	tbl.Print(w)
	return nil
}
