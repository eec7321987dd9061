package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "0.3.0-dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the jive version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("jive " + Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
