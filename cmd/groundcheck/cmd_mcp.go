package main

import (
	"github.com/spf13/cobra"

	"github.com/contestra/ai-ranker-sub001/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve grounding checks as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := a.engine()
			if err != nil {
				return err
			}
			builder, err := a.ambientBuilder()
			if err != nil {
				return err
			}
			srv := mcp.NewServer(engine,
				mcp.WithAmbient(builder),
				mcp.WithLogger(a.logger),
				mcp.WithVersion(version),
			)
			return srv.Run(cmd.Context())
		},
	}
}
