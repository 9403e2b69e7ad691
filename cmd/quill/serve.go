package main

import (
	"context"
	"os"

	"github.com/aretw0/quill/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve <notebook>",
	Short: "Serve a notebook over HTTP",
	Long: `Exposes the notebook state, a server-sent change feed, execution endpoints
and Prometheus metrics over HTTP.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Stop()

		return cli.Serve(ctx, cli.ServeOptions{
			Config: configFrom(cmd, args),
			Addr:   ":" + port,
		}, cli.NewPrinter(os.Stdout))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("port", "p", "8080", "Port to listen on")
}
