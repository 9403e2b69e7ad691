package main

import (
	"context"
	"os"

	"github.com/aretw0/quill/internal/cli"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <notebook>",
	Short: "Execute the code cells of a notebook",
	Long:  `Opens the notebook, runs its code cells in order (or only those given with --cell) and prints the outputs.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cells, _ := cmd.Flags().GetStringSlice("cell")
		save, _ := cmd.Flags().GetBool("save")
		quiet, _ := cmd.Flags().GetBool("quiet")

		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Stop()

		return cli.Run(ctx, cli.RunOptions{
			Config: configFrom(cmd, args),
			Cells:  cells,
			Save:   save,
			Quiet:  quiet,
		}, cli.NewPrinter(os.Stdout))
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSlice("cell", nil, "Cell ids to run, in order (default: all code cells)")
	runCmd.Flags().Bool("save", false, "Write the outputs back to the notebook")
	runCmd.Flags().BoolP("quiet", "q", false, "Only print cells")
}
