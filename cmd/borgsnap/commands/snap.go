package commands

import (
	"github.com/spf13/cobra"

	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/internal/rotation"
)

func init() {
	rootCmd.AddCommand(snapCmd)
}

var snapCmd = &cobra.Command{
	Use:   "snap <config> <label>",
	Short: "Back up every dataset under an explicit label",
	Long: `Snap bypasses the rotation decider and backs up every configured
dataset under the given label, e.g. before a risky migration. The label
must still be well formed (tier-YYYYMMDD) so it sorts correctly next to
scheduled captures. Retention is not enforced; the next scheduled run
prunes as usual.`,
	Example: `  borgsnap snap /etc/borgsnap/config.yaml daily-20240401`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		label := rotation.Label(args[1])
		if _, _, err := rotation.ParseLabel(label); err != nil {
			return errors.NewUserError(err,
				"Labels look like monthly-20240101, weekly-20240107, or daily-20240102")
		}

		e, err := newEngine(cmd, args[0])
		if err != nil {
			return err
		}

		res, err := e.pipeline.RunWithLabel(cmd.Context(), label)
		if err != nil {
			return err
		}
		return reportResult(cmd.OutOrStdout(), res)
	},
}
