package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nightshift",
	Short: "Supervisor for AI coding-agent subprocesses",
	Long: `nightshift supervises AI coding-agent subprocesses on behalf of a task
queue: for each task it spawns an agent CLI, streams and classifies its
output, enforces concurrency and duration limits, and reports terminal
outcomes on a typed event bus.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(agentsCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to nightshift.json config file (default: ./nightshift.json)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
