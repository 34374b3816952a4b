package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/agenthands/tsgcopilot/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the copilot as an MCP tool over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close(ctx)

		logger.Info("serving mcp on stdio")
		return mcpserver.Serve(mcpserver.New(e.copilot))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
