// Package executor applies planned actions to the host, in order, with
// best-effort rollback when an action fails partway through.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/converge-sh/converge/internal/errdefs"
	"github.com/converge-sh/converge/internal/planner"
	"github.com/converge-sh/converge/internal/probe"
	"github.com/converge-sh/converge/internal/report"
	"github.com/converge-sh/converge/internal/run"
	"github.com/converge-sh/converge/internal/spec"
)

// Executor applies a plan. All host mutation flows through Runner so
// tests can substitute fakes.
type Executor struct {
	Runner run.Runner
	PM     *probe.PackageManager
	Snap   *Snapshot
	Log    zerolog.Logger

	// pausers maps a file unit name to services stopped during its rewrite.
	pausers      map[string][]string
	idxMu        sync.Mutex
	indexUpdated bool
}

type appliedAction struct {
	action planner.Action
	idx    int // report index
}

// Run applies plan.Actions strictly in rank order, recording one
// outcome per action in rep. On the first failure the remaining actions
// are marked Skipped and the applied prefix is rolled back in reverse.
// The returned error (an ActionFailure) reports the partial completion;
// rep is left unsealed for the caller to finish.
func (e *Executor) Run(ctx context.Context, s *spec.Spec, plan *planner.Plan, rep *report.Report) error {
	if plan.Empty() {
		return nil
	}
	e.preparePausers(s)
	e.indexUpdated = false
	if err := e.Snap.Begin(); err != nil {
		return errdefs.Wrap(errdefs.ActionFailure, "", err)
	}

	var applied []appliedAction
	var failure error

	for _, a := range plan.Actions {
		if failure != nil {
			rep.AddAction(result(a, report.Skipped, nil, 0))
			continue
		}

		e.Log.Info().
			Str("unit", a.Unit.Name).
			Str("op", string(a.Op)).
			Str("reason", a.Reason).
			Msg("applying")

		start := time.Now()
		err := e.apply(ctx, a)
		elapsed := time.Since(start)

		if err != nil {
			rep.AddAction(result(a, report.Failed, err, elapsed))
			e.Log.Error().Str("unit", a.Unit.Name).Str("op", string(a.Op)).Err(err).Msg("action failed")
			failure = err
			continue
		}
		idx := rep.AddAction(result(a, report.Applied, nil, elapsed))
		applied = append(applied, appliedAction{action: a, idx: idx})
	}

	if failure != nil {
		e.rollbackApplied(ctx, applied, rep)
	}
	return failure
}

// rollbackApplied undoes applied actions in reverse order, best effort.
func (e *Executor) rollbackApplied(ctx context.Context, applied []appliedAction, rep *report.Report) {
	for i := len(applied) - 1; i >= 0; i-- {
		a := applied[i]
		e.Log.Info().
			Str("unit", a.action.Unit.Name).
			Str("op", string(a.action.Op)).
			Msg("rolling back")
		if err := e.rollback(ctx, a.action); err != nil {
			e.Log.Warn().
				Str("unit", a.action.Unit.Name).
				Str("op", string(a.action.Op)).
				Err(err).
				Msg("rollback failed, leaving as applied")
			continue
		}
		rep.MarkRolledBack(a.idx)
	}
}

func (e *Executor) preparePausers(s *spec.Spec) {
	e.pausers = make(map[string][]string)
	for _, name := range s.Names() {
		u := s.Units[name]
		if u.Kind != spec.KindService {
			continue
		}
		for _, f := range u.PauseDuring {
			e.pausers[f] = append(e.pausers[f], name)
		}
	}
}

func result(a planner.Action, out report.Outcome, err error, d time.Duration) report.ActionResult {
	r := report.ActionResult{
		Unit:     a.Unit.Name,
		Kind:     string(a.Unit.Kind),
		Op:       string(a.Op),
		Outcome:  out,
		Reason:   a.Reason,
		Duration: d,
	}
	if err != nil {
		r.Error = err.Error()
		var ce *errdefs.Error
		if errors.As(err, &ce) {
			r.Stderr = ce.Stderr
		}
	}
	return r
}
