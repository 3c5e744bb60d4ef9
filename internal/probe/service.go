package probe

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/converge-sh/converge/internal/errdefs"
	"github.com/converge-sh/converge/internal/run"
)

// DropinBaseDir is where managed env drop-ins live. Patchable for tests.
var DropinBaseDir = "/etc/systemd/system"

// DropinName is the file name of the managed env drop-in.
const DropinName = "converge-env.conf"

// DropinPath returns the managed drop-in path for a service.
func DropinPath(service string) string {
	return filepath.Join(DropinBaseDir, service+".service.d", DropinName)
}

// SystemdServiceProbe queries service state via systemctl.
type SystemdServiceProbe struct {
	Runner run.Runner
	Files  FileProbe // used to hash the managed env drop-in
}

func (p *SystemdServiceProbe) Status(ctx context.Context, name string) (ServiceStatus, error) {
	st := ServiceStatus{CheckedAt: time.Now()}

	res, err := p.Runner.Run(ctx, "systemctl", "is-enabled", name)
	if err != nil {
		return st, errdefs.Wrap(errdefs.ProbeFailure, name, err)
	}
	switch out := run.Line(res.Stdout); {
	case res.ExitCode == 0:
		st.Found = true
		st.Enabled = out == "enabled"
		st.Static = out == "static" || out == "alias"
	case out == "disabled" || out == "static" || out == "masked" || out == "linked":
		st.Found = true
		st.Static = out == "static"
	default:
		// "not-found" or empty output with a stderr complaint: unit unknown.
		if strings.Contains(res.Stderr, "No such file") || out == "not-found" || out == "" {
			st.Found = false
		} else {
			st.Found = true
		}
	}

	res, err = p.Runner.Run(ctx, "systemctl", "is-active", "--quiet", name)
	if err != nil {
		return st, errdefs.Wrap(errdefs.ProbeFailure, name, err)
	}
	st.Active = res.ExitCode == 0

	if p.Files != nil {
		obs, err := p.Files.Hash(DropinPath(name))
		if err != nil {
			return st, errdefs.Wrap(errdefs.ProbeFailure, name, fmt.Errorf("hashing env drop-in: %w", err))
		}
		if obs.Present {
			st.EnvDigest = obs.Digest
		}
	}
	return st, nil
}

// BuildEnvDropin renders the managed env drop-in with sorted keys so
// repeated renders of the same map compare equal.
func BuildEnvDropin(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("[Service]\n")
	for _, k := range keys {
		v := strings.ReplaceAll(env[k], `"`, `\"`)
		fmt.Fprintf(&b, "Environment=\"%s=%s\"\n", k, v)
	}
	return b.String()
}
