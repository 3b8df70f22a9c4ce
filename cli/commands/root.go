// Package commands implements the oxyde debug CLI: compiling IR files to
// SQL, explaining queries against a live pool and checking connectivity.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "oxyde",
	Short: "Oxyde engine debug tool",
	Long: `Oxyde engine debug tool.

Compiles query IR files to dialect SQL, runs EXPLAIN against a live
database and checks pool connectivity.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		// Best effort; a missing .env is not an error.
		_ = godotenv.Load()
	},
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}
