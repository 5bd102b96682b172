package main

import (
	"github.com/spf13/cobra"

	"storypool/internal/mcp"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func mcpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the admin tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStack(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			server := mcp.NewServer(s.admin, version)
			return server.Run(ctx, &sdk.StdioTransport{})
		},
	}
}
