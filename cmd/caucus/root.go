package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "caucus",
	Short: "AI-mediated deliberation coordinator",
	Long: `Caucus coordinates multi-party deliberation: a fixed set of
participants each submit an opinion, a language model drafts candidate
consensus statements, rankings select a winner by a Condorcet-consistent
method, participants critique it, and the cycle optionally repeats before
finalizing.

Run "caucus serve" to expose the HTTP API, or "caucus demo" to watch a
full deliberation run offline with deterministic mock models.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
