package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgeloop/forgeloop/pkg/progress"
)

// logCmd represents the log command
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the progress log of the current project",
	Long: `Log prints the audit trail of the build sessions run in this directory:
each step's outcome, repair and rollback annotations, and the files it
applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := os.Getwd()
		if err != nil {
			return err
		}
		pl, err := progress.Load(root)
		if err != nil {
			return err
		}
		fmt.Print(pl.Render())
		return nil
	},
}
