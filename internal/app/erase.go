package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var eraseYes bool

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Delete every session and roll for the current user",
	Long: `End the active session and permanently delete all of the current
user's sessions and rolls. Other users' data is not touched.

This cannot be undone; pass --yes to confirm.`,
	Args: cobra.NoArgs,
	RunE: runErase,
}

func init() {
	eraseCmd.Flags().BoolVar(&eraseYes, "yes", false, "Confirm the deletion")
	rootCmd.AddCommand(eraseCmd)
}

func runErase(cmd *cobra.Command, args []string) error {
	if !eraseYes {
		return errors.New("refusing to erase without --yes")
	}

	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.sessions.EraseData(cmd.Context()); err != nil {
		return fmt.Errorf("erasing data: %w", err)
	}
	return nil
}
