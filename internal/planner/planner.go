// Package planner turns a drift report into a minimal ordered action
// sequence that respects unit dependencies.
package planner

import (
	"sort"
	"strings"

	"github.com/converge-sh/converge/internal/drift"
	"github.com/converge-sh/converge/internal/errdefs"
	"github.com/converge-sh/converge/internal/probe"
	"github.com/converge-sh/converge/internal/spec"
)

// Op is the operation an action performs on its unit.
type Op string

const (
	OpInstall   Op = "install"
	OpConfigure Op = "configure"
	OpEnable    Op = "enable"
	OpRestart   Op = "restart"
	OpRollback  Op = "rollback"
)

// Action is one planned operation. Actions are consumed exactly once by
// the executor, in Rank order.
type Action struct {
	Unit   *spec.Unit
	Op     Op
	Rank   int
	Reason string
}

// Plan is the ordered action sequence plus the units the detector could
// not classify.
type Plan struct {
	Actions []Action
	Unknown []string
}

// Empty reports whether the plan performs no work.
func (p *Plan) Empty() bool { return len(p.Actions) == 0 }

// Build computes the action plan for the drifted subset of s. Units
// with Unknown drift are excluded and reported. The order is a
// topological sort of the drifted units (dependencies first), with
// lexicographic tie-breaks so equal inputs always produce equal plans.
func Build(s *spec.Spec, drifts []drift.Drift) (*Plan, error) {
	plan := &Plan{}
	byName := make(map[string]drift.Drift, len(drifts))
	for _, d := range drifts {
		byName[d.Unit.Name] = d
		if d.Status == drift.Unknown {
			plan.Unknown = append(plan.Unknown, d.Unit.Name)
		}
	}
	sort.Strings(plan.Unknown)

	// Units that need actions: drifted units, plus in-sync services whose
	// restart_on files are being rewritten.
	need := make(map[string]string) // name -> reason
	for _, d := range drifts {
		if d.Drifted() {
			need[d.Unit.Name] = d.Detail
		}
	}
	for _, name := range s.Names() {
		u := s.Units[name]
		if u.Kind != spec.KindService {
			continue
		}
		if _, already := need[name]; already {
			continue
		}
		// A service whose own drift could not be probed is already
		// reported as unknown; never act on it.
		if byName[name].Status == drift.Unknown {
			continue
		}
		for _, f := range u.RestartOn {
			if reason, ok := need[f]; ok {
				need[name] = "restart forced: " + reason
				break
			}
		}
	}
	if len(need) == 0 {
		return plan, nil
	}

	order, err := topoSort(s, need)
	if err != nil {
		return nil, err
	}

	rank := 0
	for _, name := range order {
		u := s.Units[name]
		for _, op := range expand(u, byName[name], need[name]) {
			op.Rank = rank
			rank++
			plan.Actions = append(plan.Actions, op)
		}
	}
	return plan, nil
}

// expand maps one unit's drift onto concrete operations. Within a unit
// the order is configure, enable, restart.
func expand(u *spec.Unit, d drift.Drift, reason string) []Action {
	switch u.Kind {
	case spec.KindPackage, spec.KindUser:
		return []Action{{Unit: u, Op: OpInstall, Reason: reason}}
	case spec.KindFile:
		return []Action{{Unit: u, Op: OpConfigure, Reason: reason}}
	case spec.KindService:
		return expandService(u, d, reason)
	}
	return nil
}

func expandService(u *spec.Unit, d drift.Drift, reason string) []Action {
	var acts []Action
	add := func(op Op) {
		acts = append(acts, Action{Unit: u, Op: op, Reason: reason})
	}

	// Forced restart of an otherwise in-sync service.
	if !d.Drifted() {
		add(OpRestart)
		return acts
	}

	// Unit file missing: assume a package action earlier in the order
	// provides it, then converge enablement and run state from scratch.
	if d.Status == drift.Missing || d.Svc == nil {
		if len(u.Env) > 0 {
			add(OpConfigure)
		}
		if u.Enabled {
			add(OpEnable)
		}
		if u.State == spec.StateStarted {
			add(OpRestart)
		}
		return acts
	}

	st := *d.Svc
	envWant := ""
	if len(u.Env) > 0 {
		envWant = digestEnv(u)
	}
	envChanged := st.EnvDigest != envWant
	if envChanged {
		add(OpConfigure)
	}
	if !st.Static && u.Enabled != st.Enabled {
		add(OpEnable)
	}
	runStateWrong := (u.State == spec.StateStarted) != st.Active
	if runStateWrong || (envChanged && u.State == spec.StateStarted) {
		add(OpRestart)
	}
	return acts
}

// topoSort orders the needed units with Kahn's algorithm. Dependencies
// are transitive: an edge exists when another needed unit is reachable
// through requires chains, even via units that are in sync. The ready
// set is kept sorted for the lexicographic tie-break.
func topoSort(s *spec.Spec, need map[string]string) ([]string, error) {
	names := make([]string, 0, len(need))
	for n := range need {
		names = append(names, n)
	}
	sort.Strings(names)

	reach := reachability(s, need)
	indeg := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, n := range names {
		for dep := range reach[n] {
			indeg[n]++
			dependents[dep] = append(dependents[dep], n)
		}
	}

	var ready []string
	for _, n := range names {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]string, 0, len(names))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, dep := range dependents[n] {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}

	if len(order) != len(names) {
		var stuck []string
		for _, n := range names {
			if indeg[n] > 0 {
				stuck = append(stuck, n)
			}
		}
		return nil, errdefs.Newf(errdefs.UnsatisfiableOrder, "",
			"no valid order for units: %s", strings.Join(stuck, ", "))
	}
	return order, nil
}

// reachability maps each needed unit to the set of other needed units
// reachable through its requires edges.
func reachability(s *spec.Spec, need map[string]string) map[string]map[string]bool {
	memo := make(map[string]map[string]bool, len(s.Units))

	var visit func(name string) map[string]bool
	visit = func(name string) map[string]bool {
		if r, ok := memo[name]; ok {
			return r
		}
		r := make(map[string]bool)
		memo[name] = r // placeholder guards against revisits; graph is acyclic post-load
		for _, dep := range s.Units[name].Requires {
			if _, needed := need[dep]; needed {
				r[dep] = true
			}
			for n := range visit(dep) {
				r[n] = true
			}
		}
		return r
	}

	out := make(map[string]map[string]bool, len(need))
	for n := range need {
		out[n] = visit(n)
	}
	return out
}

func insertSorted(ss []string, s string) []string {
	i := sort.SearchStrings(ss, s)
	ss = append(ss, "")
	copy(ss[i+1:], ss[i:])
	ss[i] = s
	return ss
}

func digestEnv(u *spec.Unit) string {
	return probe.DigestBytes([]byte(probe.BuildEnvDropin(u.Env)))
}
