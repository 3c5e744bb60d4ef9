// Package drift compares desired units against observed host state.
// Detection is read-only and idempotent: two consecutive runs without
// intervening host changes produce equal results.
package drift

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/converge-sh/converge/internal/probe"
	"github.com/converge-sh/converge/internal/spec"
)

// Status classifies one unit's divergence from its desired state.
type Status string

const (
	InSync   Status = "in-sync"
	Missing  Status = "missing"
	Modified Status = "modified"
	// Unknown means the probe failed; the unit is reported and excluded
	// from planning rather than failing the whole run.
	Unknown Status = "unknown"
)

// Drift is the detector's verdict for one unit.
type Drift struct {
	Unit   *spec.Unit
	Status Status
	Detail string
	// Svc carries the observed service status so the planner can pick
	// between enable and restart without re-probing.
	Svc *probe.ServiceStatus
}

// Drifted reports whether the unit needs action.
func (d Drift) Drifted() bool {
	return d.Status == Missing || d.Status == Modified
}

// Detector queries the injected probes for every unit in a spec.
type Detector struct {
	Probes probe.Set
	Log    zerolog.Logger
}

// Detect returns one Drift per unit, ordered by unit name. Probe
// failures degrade the affected unit to Unknown; they never abort the
// scan.
func (d *Detector) Detect(ctx context.Context, s *spec.Spec) []Drift {
	out := make([]Drift, 0, len(s.Units))
	for _, name := range s.Names() {
		u := s.Units[name]
		dr := d.detectUnit(ctx, u)
		d.Log.Debug().
			Str("unit", u.Name).
			Str("kind", string(u.Kind)).
			Str("status", string(dr.Status)).
			Str("detail", dr.Detail).
			Msg("probed")
		out = append(out, dr)
	}
	return out
}

func (d *Detector) detectUnit(ctx context.Context, u *spec.Unit) Drift {
	dr := Drift{Unit: u, Status: InSync}
	switch u.Kind {
	case spec.KindPackage:
		obs, err := d.Probes.Package.Installed(ctx, u.Name)
		if err != nil {
			return d.unknown(u, err)
		}
		if !obs.Present {
			dr.Status = Missing
			dr.Detail = "package not installed"
		}

	case spec.KindUser:
		obs, err := d.Probes.User.Exists(u.Name)
		if err != nil {
			return d.unknown(u, err)
		}
		if !obs.Present {
			dr.Status = Missing
			dr.Detail = "user does not exist"
		}

	case spec.KindFile:
		want, err := probe.DesiredFileDigest(u)
		if err != nil {
			return d.unknown(u, fmt.Errorf("reading desired content: %w", err))
		}
		obs, err := d.Probes.File.Hash(u.Path)
		if err != nil {
			return d.unknown(u, err)
		}
		switch {
		case !obs.Present:
			dr.Status = Missing
			dr.Detail = fmt.Sprintf("%s does not exist", u.Path)
		case obs.Digest != want:
			dr.Status = Modified
			dr.Detail = fmt.Sprintf("%s content differs", u.Path)
		}

	case spec.KindService:
		st, err := d.Probes.Service.Status(ctx, u.Name)
		if err != nil {
			return d.unknown(u, err)
		}
		dr.Svc = &st
		switch {
		case !st.Found:
			dr.Status = Missing
			dr.Detail = "service unit not found"
		case serviceDrifts(u, st):
			dr.Status = Modified
			dr.Detail = serviceDetail(u, st)
		}
	}
	return dr
}

func (d *Detector) unknown(u *spec.Unit, err error) Drift {
	d.Log.Warn().Str("unit", u.Name).Err(err).Msg("probe failed, drift unknown")
	return Drift{Unit: u, Status: Unknown, Detail: err.Error()}
}

func serviceDrifts(u *spec.Unit, st probe.ServiceStatus) bool {
	// Static and alias units have no enablement of their own.
	if !st.Static && u.Enabled != st.Enabled {
		return true
	}
	if (u.State == spec.StateStarted) != st.Active {
		return true
	}
	return envDrifts(u, st)
}

func envDrifts(u *spec.Unit, st probe.ServiceStatus) bool {
	if len(u.Env) == 0 {
		return st.EnvDigest != ""
	}
	want := probe.DigestBytes([]byte(probe.BuildEnvDropin(u.Env)))
	return st.EnvDigest != want
}

func serviceDetail(u *spec.Unit, st probe.ServiceStatus) string {
	switch {
	case !st.Static && u.Enabled != st.Enabled:
		if u.Enabled {
			return "service not enabled"
		}
		return "service should be disabled"
	case (u.State == spec.StateStarted) != st.Active:
		if u.State == spec.StateStarted {
			return "service not running"
		}
		return "service should be stopped"
	default:
		return "env drop-in differs"
	}
}
