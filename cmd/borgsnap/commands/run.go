package commands

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <config>",
	Short: "Run a scheduled backup of every configured dataset",
	Long: `Run decides each dataset's rotation tier from its snapshot history,
captures it, archives the capture to every enabled target, and enforces
the per-tier keep counts.

A dataset that fails is skipped, not retried; the remaining datasets
still run. Anything a failed dataset left behind is reconciled by
'borgsnap tidy'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd, args[0])
		if err != nil {
			return err
		}

		res, err := e.pipeline.Run(cmd.Context())
		if err != nil {
			return err
		}
		return reportResult(cmd.OutOrStdout(), res)
	},
}
