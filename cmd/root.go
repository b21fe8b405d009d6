// Package cmd holds the marginalia CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "marginalia",
	Short: "Marginalia - a reading companion for your books",
	Long: `Marginalia answers questions about the book you are reading,
grounded in the passages around your current position. It remembers the
conversation and adapts its answers to how you like to read.

Run 'marginalia ask' to pose a question, or 'marginalia serve' to start
the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
