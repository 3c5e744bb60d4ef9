package probe

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/converge-sh/converge/internal/errdefs"
	"github.com/converge-sh/converge/internal/run"
)

// PackageManager describes the detected package manager. Install and
// remove argument lists are shared with the executor so both sides
// agree on the collaborator's interface.
type PackageManager struct {
	Name    string
	Install []string // args for install, package names appended
	Remove  []string // args for remove, package name appended
	Query   []string // package name appended; exit 0 means installed
}

// LookPath is patchable for tests.
var LookPath = exec.LookPath

// DetectPackageManager finds the first supported package manager on PATH.
func DetectPackageManager() (*PackageManager, error) {
	candidates := []PackageManager{
		{
			Name:    "apt-get",
			Install: []string{"apt-get", "install", "-y"},
			Remove:  []string{"apt-get", "remove", "-y"},
			Query:   []string{"dpkg-query", "-W", "-f=${Version}"},
		},
		{
			Name:    "dnf",
			Install: []string{"dnf", "install", "-y"},
			Remove:  []string{"dnf", "remove", "-y"},
			Query:   []string{"rpm", "-q", "--qf", "%{VERSION}-%{RELEASE}"},
		},
		{
			Name:    "yum",
			Install: []string{"yum", "install", "-y"},
			Remove:  []string{"yum", "remove", "-y"},
			Query:   []string{"rpm", "-q", "--qf", "%{VERSION}-%{RELEASE}"},
		},
		{
			Name:    "pacman",
			Install: []string{"pacman", "-S", "--noconfirm"},
			Remove:  []string{"pacman", "-R", "--noconfirm"},
			Query:   []string{"pacman", "-Q"},
		},
	}
	for _, pm := range candidates {
		if _, err := LookPath(pm.Name); err == nil {
			p := pm
			return &p, nil
		}
	}
	return nil, fmt.Errorf("no supported package manager found (tried apt-get, dnf, yum, pacman)")
}

// InstallArgs returns the full argv to install pkgs.
func (pm *PackageManager) InstallArgs(pkgs ...string) []string {
	return append(append([]string{}, pm.Install...), pkgs...)
}

// RemoveArgs returns the full argv to remove pkg.
func (pm *PackageManager) RemoveArgs(pkg string) []string {
	return append(append([]string{}, pm.Remove...), pkg)
}

// QueryArgs returns the full argv to query pkg.
func (pm *PackageManager) QueryArgs(pkg string) []string {
	return append(append([]string{}, pm.Query...), pkg)
}

// SystemPackageProbe queries installation state through the detected
// package manager's query tool (dpkg-query, rpm, pacman -Q).
type SystemPackageProbe struct {
	PM     *PackageManager
	Runner run.Runner
}

func (p *SystemPackageProbe) Installed(ctx context.Context, name string) (Observation, error) {
	args := p.PM.QueryArgs(name)
	res, err := p.Runner.Run(ctx, args[0], args[1:]...)
	if err != nil {
		return Observation{}, errdefs.Wrap(errdefs.ProbeFailure, name, err)
	}
	obs := Observation{CheckedAt: time.Now()}
	if res.ExitCode == 0 {
		obs.Present = true
		obs.Digest = run.Line(res.Stdout)
	}
	return obs, nil
}
