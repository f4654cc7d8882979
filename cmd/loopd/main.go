// Loopd is a conversational agent orchestrator daemon.
//
// It serves orchestration queries over HTTP (and optionally NATS), keeping
// per-conversation rolling memory and a scratchpad working document on disk.
//
// Usage:
//
//	# Start the daemon
//	loopd serve
//
//	# Run a single query from the terminal
//	loopd run "check disk usage and clean up if needed"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "loopd",
	Short: "Conversational agent orchestrator",
	Long: `loopd orchestrates conversational agent tasks: it analyzes and plans
complex queries, iterates reasoning turns with approval-gated command
execution, and keeps per-conversation memory and a scratchpad on disk.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("loopd %s (commit %s, built %s)\n", version, gitCommit, buildDate)
	},
}
