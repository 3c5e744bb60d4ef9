// Package report accumulates the outcome of one reconciliation run.
package report

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal state of one executed action.
type Outcome string

const (
	Applied    Outcome = "applied"
	Failed     Outcome = "failed"
	Skipped    Outcome = "skipped"
	RolledBack Outcome = "rolled-back"
)

// UnitStatus is the drift verdict for one unit at scan time.
type UnitStatus struct {
	Unit   string `json:"unit"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ActionResult is the recorded outcome of one action.
type ActionResult struct {
	Unit     string        `json:"unit"`
	Kind     string        `json:"kind"`
	Op       string        `json:"op"`
	Outcome  Outcome       `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// Report is the full record of one run. It accumulates unit statuses
// and action outcomes until Seal, after which it is immutable.
type Report struct {
	RunID     string         `json:"run_id"`
	Spec      string         `json:"spec"`
	Started   time.Time      `json:"started"`
	Finished  time.Time      `json:"finished"`
	Units     []UnitStatus   `json:"units,omitempty"`
	Actions   []ActionResult `json:"actions"`
	Unknown   []string       `json:"unknown_units,omitempty"`
	Converged bool           `json:"converged"`

	sealed bool
}

// New starts a report for the named spec.
func New(specName string) *Report {
	return &Report{
		RunID:   uuid.NewString(),
		Spec:    specName,
		Started: time.Now(),
	}
}

// AddUnit records one unit's drift status.
func (r *Report) AddUnit(s UnitStatus) {
	r.mustOpen()
	r.Units = append(r.Units, s)
}

// AddAction records one action outcome and returns its index so the
// executor can later flip it to RolledBack.
func (r *Report) AddAction(a ActionResult) int {
	r.mustOpen()
	r.Actions = append(r.Actions, a)
	return len(r.Actions) - 1
}

// MarkRolledBack flips an Applied action to RolledBack.
func (r *Report) MarkRolledBack(idx int) {
	r.mustOpen()
	if idx >= 0 && idx < len(r.Actions) && r.Actions[idx].Outcome == Applied {
		r.Actions[idx].Outcome = RolledBack
	}
}

// Seal closes the report. Further mutation panics.
func (r *Report) Seal(converged bool) {
	r.mustOpen()
	r.Converged = converged
	r.Finished = time.Now()
	r.sealed = true
}

// Sealed reports whether the run record is closed.
func (r *Report) Sealed() bool { return r.sealed }

// Count returns how many actions ended in the given outcome.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, a := range r.Actions {
		if a.Outcome == o {
			n++
		}
	}
	return n
}

func (r *Report) mustOpen() {
	if r.sealed {
		panic("report: mutation after Seal")
	}
}
