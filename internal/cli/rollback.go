package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/converge-sh/converge/internal/executor"
	"github.com/converge-sh/converge/internal/spec"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore files from the last pre-apply snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := spec.LoadFile(specPath)
		if err != nil {
			return err
		}
		snap := executor.NewSnapshot(cfg.StateDir, s.Name)
		if !snap.Available() {
			return fmt.Errorf("no rollback snapshot for spec %q", s.Name)
		}
		if err := snap.RestoreAll(logger); err != nil {
			return err
		}
		fmt.Println("Snapshot restored. Packages and service states are not touched; run `converge status` to review.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}
