package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/thoreinstein/borgsnap/internal/rotation"
)

var listArchives bool

func init() {
	listCmd.Flags().BoolVarP(&listArchives, "archives", "a", false,
		"also list borg archives on every target")
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list <config>",
	Short: "List captures, and optionally archives, per dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		heading := color.New(color.Bold).SprintFunc()
		dim := color.New(color.Faint).SprintFunc()

		for _, ds := range e.cfg.Datasets {
			fmt.Fprintln(out, heading(ds.Name))

			for _, tier := range rotation.Tiers {
				labels, err := e.captures.FindAll(cmd.Context(), ds.Name, tier)
				if err != nil {
					return err
				}
				if len(labels) == 0 {
					fmt.Fprintf(out, "  %-8s %s\n", tier, dim("none"))
					continue
				}
				for _, l := range labels {
					fmt.Fprintf(out, "  %-8s %s\n", tier, l)
				}
			}

			if listArchives {
				for _, target := range e.targets {
					names, err := e.borg.List(cmd.Context(), target.Repo(ds.Name))
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "  %s:\n", heading(target.Name()))
					if len(names) == 0 {
						fmt.Fprintf(out, "    %s\n", dim("no archives"))
					}
					for _, n := range names {
						fmt.Fprintf(out, "    %s\n", n)
					}
				}
			}
		}
		return nil
	},
}
