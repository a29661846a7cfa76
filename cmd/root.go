// Package cmd provides the lexica CLI.
//
// Commands:
//   - serve: HTTP API server with streamed answers
//   - ingest: index documents from the command line
//   - ask: one-shot question answering in the terminal
//   - version: build information
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lexica",
	Short: "Lexica - assistant documentaire",
	Long: `Lexica answers questions grounded in your own documents.

Ingest files or raw text to build the knowledge base, then serve the
HTTP API or ask questions directly from the terminal.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
