package cli

import (
	"errors"
	"testing"

	"github.com/converge-sh/converge/internal/drift"
	"github.com/converge-sh/converge/internal/planner"
	"github.com/converge-sh/converge/internal/spec"
)

func TestRunVerdict(t *testing.T) {
	unit := &spec.Unit{Name: "a", Kind: spec.KindPackage}
	oneAction := &planner.Plan{Actions: []planner.Action{{Unit: unit, Op: planner.OpInstall}}}
	noRescan := func() []drift.Drift {
		t.Fatal("rescan must not run for an empty plan")
		return nil
	}

	if !runVerdict(nil, &planner.Plan{}, noRescan) {
		t.Error("empty plan with no unknowns should converge")
	}
	if runVerdict(nil, &planner.Plan{Unknown: []string{"api"}}, noRescan) {
		t.Error("unprobeable units must not report converged")
	}
	if runVerdict(errors.New("boom"), &planner.Plan{}, noRescan) {
		t.Error("a failed run must not report converged")
	}
	if !runVerdict(nil, oneAction, func() []drift.Drift {
		return []drift.Drift{{Unit: unit, Status: drift.InSync}}
	}) {
		t.Error("clean re-scan after actions should converge")
	}
	if runVerdict(nil, oneAction, func() []drift.Drift {
		return []drift.Drift{{Unit: unit, Status: drift.Modified}}
	}) {
		t.Error("residual drift on re-scan must not report converged")
	}
	if runVerdict(nil, oneAction, func() []drift.Drift {
		return []drift.Drift{{Unit: unit, Status: drift.Unknown}}
	}) {
		t.Error("unknown drift on re-scan must not report converged")
	}
}
