package main

import (
	"fmt"
	"os"

	"github.com/aretw0/quill/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill runs code notebooks against a kernel",
	Long: `Quill opens .ipynb or YAML notebooks, executes their code cells on a kernel
and renders the streamed outputs in the terminal, over HTTP or as MCP tools.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	flags := rootCmd.PersistentFlags()
	flags.String("kernel", "", "Kernel to start (defaults to the notebook kernelspec, then python3)")
	flags.String("kernels", "kernels.yaml", "Kernel definitions file (YAML or JSON)")
	flags.String("snapshot-dir", "", "Directory for result snapshots (disabled when empty)")
	flags.String("redis", "", "Redis address for snapshots and kernel locks (env "+cli.RedisAddrEnv+")")
	flags.String("log-level", "", "Log level: debug, info, warn, error (silent when empty)")
	flags.String("log-format", "text", "Log format: text or json")
}

// configFrom reads the shared flags. The notebook path is the first argument.
func configFrom(cmd *cobra.Command, args []string) cli.Config {
	flags := cmd.Flags()
	cfg := cli.Config{}
	if len(args) > 0 {
		cfg.Path = args[0]
	}
	cfg.Kernel, _ = flags.GetString("kernel")
	cfg.KernelsFile, _ = flags.GetString("kernels")
	cfg.SnapshotDir, _ = flags.GetString("snapshot-dir")
	cfg.RedisAddr, _ = flags.GetString("redis")
	cfg.LogLevel, _ = flags.GetString("log-level")
	cfg.LogFormat, _ = flags.GetString("log-format")
	return cfg
}
