package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCapabilitiesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities [PROVIDER MODEL]",
		Short: "Print the capability table, or the tier of one model",
		Args: cobra.MatchAll(cobra.MaximumNArgs(2), func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				return fmt.Errorf("give both PROVIDER and MODEL")
			}
			return nil
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := a.capabilities()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 2 {
				fmt.Fprintln(out, caps.Lookup(args[0], args[1]))
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tMODEL\tTIER")
			for _, r := range caps.Table().Rules() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Provider, r.Model, r.Tier)
			}
			return tw.Flush()
		},
	}
}
