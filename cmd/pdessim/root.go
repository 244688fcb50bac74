package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pdessim",
	Short: "pdessim runs and inspects topology files against the parallax PDES kernel.",
	Long: `pdessim loads a node/link topology and kernel configuration from a ` +
		`YAML file and either runs it to completion or previews how the ` +
		`automatic partitioner would split it into logical processes.`,
}

// Execute adds every subcommand to rootCmd and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
