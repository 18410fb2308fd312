package cmd

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "forgeloop",
	Short: "Autonomous build loop around a local code-generation model",
	Long: `Forgeloop drives a local LLM through an iterative build loop: it plans a
sequence of small steps toward a stated goal, applies the model's proposed
file changes, validates the project by actually running it, repairs failures
automatically and rolls back what it cannot repair.

Available commands:
  build     - Run a build session toward a goal
  rollback  - Restore the working tree from the latest snapshot
  log       - Show the progress log of the current project
  serve     - Serve a live progress view over HTTP

Typical use: forgeloop build "a CLI todo app" --tech python`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
