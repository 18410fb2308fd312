package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgeloop/forgeloop/pkg/config"
	"github.com/forgeloop/forgeloop/pkg/snapshot"
)

// rollbackCmd represents the rollback command
var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the working tree from the latest snapshot",
	Long: `Rollback replaces the working tree with the contents of the most recent
snapshot. Bookkeeping (session state, negative memory, the snapshots
themselves) is left untouched.

Examples:
  forgeloop rollback          # Confirm, then restore the latest snapshot
  forgeloop rollback --yes    # Restore without confirmation`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := os.Getwd()
		if err != nil {
			return err
		}
		cfg, err := config.Load(root)
		if err != nil {
			return err
		}

		mgr := &snapshot.Manager{Root: root, Retention: cfg.SnapshotRetention}
		latest, err := mgr.Latest()
		if err != nil {
			return err
		}
		if latest == "" {
			return fmt.Errorf("no snapshot available to restore")
		}

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			fmt.Printf("About to restore from %s\n", filepath.Base(latest))
			fmt.Print("This overwrites the working tree. Continue? (y/N): ")
			reader := bufio.NewReader(os.Stdin)
			response, _ := reader.ReadString('\n')
			if answer := strings.ToLower(strings.TrimSpace(response)); answer != "y" && answer != "yes" {
				fmt.Println("Rollback cancelled.")
				return nil
			}
		}

		if err := mgr.RestoreLatest(); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		fmt.Println("Working tree restored from the latest snapshot.")
		return nil
	},
}

func init() {
	rollbackCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
}
