package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thoreinstein/borgsnap/internal/errors"
)

func init() {
	rootCmd.AddCommand(tidyCmd)
}

var tidyCmd = &cobra.Command{
	Use:   "tidy <config>",
	Short: "Reconcile state left behind by a failed run",
	Long: `Tidy releases any mount bindings recorded in the ledger, recomputes
the label an interrupted run would have chosen for each dataset, and
removes that label's capture and archives wherever they exist.

On a clean system tidy does nothing, so it is safe to schedule
unconditionally before every backup.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd, args[0])
		if err != nil {
			return err
		}

		if err := e.tidy.Tidy(cmd.Context()); err != nil {
			return errors.NewSystemError(err,
				"Resolve the reported problems and run tidy again")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "tidy complete")
		return nil
	},
}
