package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/contestra/ai-ranker-sub001/ambient"
)

func newAmbientCmd(a *app) *cobra.Command {
	var seed uint64

	cmd := &cobra.Command{
		Use:   "ambient [COUNTRY...]",
		Short: "Print ambient context blocks, or list locale codes without arguments",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []ambient.Option
			if cmd.Flags().Changed("seed") {
				opts = append(opts, ambient.WithSeed(seed))
			}
			builder, err := a.ambientBuilderWith(opts...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprintln(out, strings.Join(builder.Codes(), "\n"))
				return nil
			}
			for i, code := range args {
				block, err := builder.Build(code)
				if err != nil {
					return err
				}
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintln(out, block.Text)
				fmt.Fprintf(out, "(%d/%d characters", block.Len(), builder.Budget())
				if block.WeatherDropped {
					fmt.Fprint(out, ", weather dropped")
				}
				fmt.Fprintln(out, ")")
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "fixed seed for phrase selection")
	return cmd
}
