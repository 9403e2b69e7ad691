package main

import (
	"context"
	"log"
	"os"

	"github.com/aretw0/quill/internal/cli"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp <notebook>",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes the notebook to AI agents as MCP tools and resources.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetString("port")

		// Keep stdout clean for JSON-RPC.
		log.SetOutput(os.Stderr)

		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Stop()

		return cli.ServeMCP(ctx, cli.MCPOptions{
			Config:    configFrom(cmd, args),
			Transport: transport,
			Addr:      ":" + port,
		})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("port", "8080", "Port to listen on (only for SSE)")
}
