package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/converge-sh/converge/internal/drift"
	"github.com/converge-sh/converge/internal/executor"
	"github.com/converge-sh/converge/internal/history"
	"github.com/converge-sh/converge/internal/planner"
	"github.com/converge-sh/converge/internal/report"
	"github.com/converge-sh/converge/internal/spec"
)

var applyParallel int

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Reconcile the host toward the desired state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := spec.LoadFile(specPath)
		if err != nil {
			return err
		}
		probes, pm, runner, err := hostProbes()
		if err != nil {
			return err
		}
		det := newDetector(probes)

		rep := report.New(s.Name)
		drifts := det.Detect(ctx, s)
		recordDrifts(rep, drifts)

		plan, err := planner.Build(s, drifts)
		if err != nil {
			return err
		}
		rep.Unknown = plan.Unknown

		exec := &executor.Executor{
			Runner: runner,
			PM:     pm,
			Snap:   executor.NewSnapshot(cfg.StateDir, s.Name),
			Log:    logger,
		}

		var runErr error
		if applyParallel > 1 {
			runErr = exec.RunParallel(ctx, s, plan, rep, applyParallel)
		} else {
			runErr = exec.Run(ctx, s, plan, rep)
		}

		converged := runVerdict(runErr, plan, func() []drift.Drift {
			return det.Detect(ctx, s)
		})
		rep.Seal(converged)

		recordHistory(ctx, rep)
		renderReport(rep)

		if runErr != nil {
			return fmt.Errorf("reconciliation incomplete: %w", runErr)
		}
		if !converged {
			return fmt.Errorf("host still drifted after apply, see report")
		}
		return nil
	},
}

func init() {
	applyCmd.Flags().IntVar(&applyParallel, "parallel", 1, "Worker count for independent dependency branches")
	rootCmd.AddCommand(applyCmd)
}

func recordDrifts(rep *report.Report, drifts []drift.Drift) {
	for _, d := range drifts {
		rep.AddUnit(report.UnitStatus{
			Unit:   d.Unit.Name,
			Kind:   string(d.Unit.Kind),
			Status: string(d.Status),
			Detail: d.Detail,
		})
	}
}

// runVerdict decides the converged flag. A failed run never converges,
// nor does one with units the probes could not classify; a run that
// performed actions must also pass a clean re-scan.
func runVerdict(runErr error, plan *planner.Plan, rescan func() []drift.Drift) bool {
	if runErr != nil || len(plan.Unknown) > 0 {
		return false
	}
	if plan.Empty() {
		return true
	}
	return allInSync(rescan())
}

func allInSync(drifts []drift.Drift) bool {
	for _, d := range drifts {
		if d.Status != drift.InSync {
			return false
		}
	}
	return true
}

func renderReport(rep *report.Report) {
	if jsonOutput {
		rep.WriteJSON(os.Stdout)
		return
	}
	rep.WriteTable(os.Stdout)
}

func recordHistory(ctx context.Context, rep *report.Report) {
	store, err := history.Open(ctx, filepath.Join(cfg.StateDir, "history.db"))
	if err != nil {
		logger.Warn().Err(err).Msg("run history unavailable")
		return
	}
	defer store.Close()
	if err := store.Record(ctx, rep); err != nil {
		logger.Warn().Err(err).Msg("could not record run")
	}
}
