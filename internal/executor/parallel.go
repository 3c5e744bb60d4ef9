package executor

import (
	"context"
	"sort"
	"time"

	"github.com/converge-sh/converge/internal/errdefs"
	"github.com/converge-sh/converge/internal/planner"
	"github.com/converge-sh/converge/internal/report"
	"github.com/converge-sh/converge/internal/spec"
)

// RunParallel applies independent branches of the plan concurrently
// with a bounded worker pool. An action is dispatched only once every
// action it depends on reports Applied; dependents of a failed branch
// never start. The first failure stops dispatch, waits for in-flight
// actions, then rolls back completed actions in reverse completion
// order.
func (e *Executor) RunParallel(ctx context.Context, s *spec.Spec, plan *planner.Plan, rep *report.Report, workers int) error {
	if plan.Empty() {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	e.preparePausers(s)
	e.indexUpdated = false
	if err := e.Snap.Begin(); err != nil {
		return errdefs.Wrap(errdefs.ActionFailure, "", err)
	}

	n := len(plan.Actions)
	deps := actionDeps(s, plan.Actions)
	indeg := make([]int, n)
	dependents := make([][]int, n)
	for i, ds := range deps {
		indeg[i] = len(ds)
		for _, d := range ds {
			dependents[d] = append(dependents[d], i)
		}
	}

	type outcome struct {
		idx     int
		err     error
		elapsed time.Duration
	}
	readyCh := make(chan int, n)
	doneCh := make(chan outcome, n)

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for w := 0; w < workers; w++ {
		go func() {
			for idx := range readyCh {
				a := plan.Actions[idx]
				e.Log.Info().
					Str("unit", a.Unit.Name).
					Str("op", string(a.Op)).
					Msg("applying")
				start := time.Now()
				err := e.apply(workCtx, a)
				doneCh <- outcome{idx: idx, err: err, elapsed: time.Since(start)}
			}
		}()
	}

	results := make([]report.ActionResult, n)
	executed := make([]bool, n)
	var completionOrder []int
	var failure error

	inFlight := 0
	dispatch := func(idx int) {
		inFlight++
		readyCh <- idx
	}
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			dispatch(i)
		}
	}

	for inFlight > 0 {
		out := <-doneCh
		inFlight--
		executed[out.idx] = true
		a := plan.Actions[out.idx]
		if out.err != nil {
			results[out.idx] = result(a, report.Failed, out.err, out.elapsed)
			e.Log.Error().Str("unit", a.Unit.Name).Str("op", string(a.Op)).Err(out.err).Msg("action failed")
			if failure == nil {
				failure = out.err
			}
			continue
		}
		results[out.idx] = result(a, report.Applied, nil, out.elapsed)
		completionOrder = append(completionOrder, out.idx)
		if failure == nil {
			for _, dep := range dependents[out.idx] {
				indeg[dep]--
				if indeg[dep] == 0 {
					dispatch(dep)
				}
			}
		}
	}
	close(readyCh)

	// Record outcomes in rank order; everything never dispatched is Skipped.
	reportIdx := make([]int, n)
	for i := 0; i < n; i++ {
		if !executed[i] {
			results[i] = result(plan.Actions[i], report.Skipped, nil, 0)
		}
		reportIdx[i] = rep.AddAction(results[i])
	}

	if failure != nil {
		var applied []appliedAction
		for _, idx := range completionOrder {
			applied = append(applied, appliedAction{action: plan.Actions[idx], idx: reportIdx[idx]})
		}
		e.rollbackApplied(ctx, applied, rep)
	}
	return failure
}

// actionDeps computes, per action, the indices it must wait for: the
// previous action on the same unit, and every action of units reachable
// through requires chains.
func actionDeps(s *spec.Spec, actions []planner.Action) [][]int {
	byUnit := make(map[string][]int)
	for i, a := range actions {
		byUnit[a.Unit.Name] = append(byUnit[a.Unit.Name], i)
	}
	for _, idxs := range byUnit {
		sort.Ints(idxs)
	}

	reach := make(map[string]map[string]bool, len(byUnit))
	var visit func(name string) map[string]bool
	visit = func(name string) map[string]bool {
		if r, ok := reach[name]; ok {
			return r
		}
		r := make(map[string]bool)
		reach[name] = r
		for _, dep := range s.Units[name].Requires {
			if _, planned := byUnit[dep]; planned {
				r[dep] = true
			}
			for nn := range visit(dep) {
				r[nn] = true
			}
		}
		return r
	}

	// The package manager cannot run concurrently with itself (dpkg/rpm
	// lock), so package actions are chained in rank order.
	var lastPkg = -1
	pkgPrev := make([]int, len(actions))
	for i, a := range actions {
		pkgPrev[i] = -1
		if a.Unit.Kind == spec.KindPackage {
			pkgPrev[i] = lastPkg
			lastPkg = i
		}
	}

	deps := make([][]int, len(actions))
	for i, a := range actions {
		seen := map[int]bool{}
		if pkgPrev[i] >= 0 {
			seen[pkgPrev[i]] = true
		}
		for unit := range visit(a.Unit.Name) {
			for _, j := range byUnit[unit] {
				seen[j] = true
			}
		}
		// Same-unit actions stay sequential in rank order.
		for _, j := range byUnit[a.Unit.Name] {
			if j < i {
				seen[j] = true
			}
		}
		for j := range seen {
			deps[i] = append(deps[i], j)
		}
		sort.Ints(deps[i])
	}
	return deps
}
