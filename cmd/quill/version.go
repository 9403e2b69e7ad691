package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/quill"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of quill",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("quill version %s\n", strings.TrimSpace(quill.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
