package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/converge-sh/converge/internal/errdefs"
	"github.com/converge-sh/converge/internal/planner"
	"github.com/converge-sh/converge/internal/probe"
	"github.com/converge-sh/converge/internal/spec"
)

// apply dispatches one action to its kind-specific handler.
func (e *Executor) apply(ctx context.Context, a planner.Action) error {
	switch {
	case a.Op == planner.OpInstall && a.Unit.Kind == spec.KindPackage:
		return e.installPackage(ctx, a.Unit)
	case a.Op == planner.OpInstall && a.Unit.Kind == spec.KindUser:
		return e.createUser(ctx, a.Unit)
	case a.Op == planner.OpConfigure && a.Unit.Kind == spec.KindFile:
		return e.writeFile(ctx, a.Unit)
	case a.Op == planner.OpConfigure && a.Unit.Kind == spec.KindService:
		return e.writeEnvDropin(ctx, a.Unit)
	case a.Op == planner.OpEnable:
		return e.setEnablement(ctx, a.Unit, a.Unit.Enabled)
	case a.Op == planner.OpRestart:
		return e.convergeRunState(ctx, a.Unit)
	}
	return errdefs.Newf(errdefs.ActionFailure, a.Unit.Name, "no handler for %s on %s unit", a.Op, a.Unit.Kind)
}

// rollback best-effort undoes one previously applied action.
func (e *Executor) rollback(ctx context.Context, a planner.Action) error {
	switch {
	case a.Op == planner.OpInstall && a.Unit.Kind == spec.KindPackage:
		return e.removePackage(ctx, a.Unit)
	case a.Op == planner.OpInstall && a.Unit.Kind == spec.KindUser:
		// Users are never deleted automatically.
		return nil
	case a.Op == planner.OpConfigure && a.Unit.Kind == spec.KindFile:
		return e.Snap.Restore(a.Unit.Path)
	case a.Op == planner.OpConfigure && a.Unit.Kind == spec.KindService:
		if err := e.Snap.Restore(probe.DropinPath(a.Unit.Name)); err != nil {
			return err
		}
		return e.systemctl(ctx, a.Unit.Name, "daemon-reload")
	case a.Op == planner.OpEnable:
		return e.setEnablement(ctx, a.Unit, !a.Unit.Enabled)
	case a.Op == planner.OpRestart:
		// Nothing meaningful to undo for a restart.
		return nil
	}
	return nil
}

// --- packages ---

func (e *Executor) installPackage(ctx context.Context, u *spec.Unit) error {
	e.updateIndexOnce(ctx)
	args := e.PM.InstallArgs(u.Name)
	return e.command(ctx, u.Name, args[0], args[1:]...)
}

func (e *Executor) removePackage(ctx context.Context, u *spec.Unit) error {
	args := e.PM.RemoveArgs(u.Name)
	return e.command(ctx, u.Name, args[0], args[1:]...)
}

// updateIndexOnce refreshes the package index before the first install
// of a run. A failed refresh is a warning, not a failure.
func (e *Executor) updateIndexOnce(ctx context.Context) {
	e.idxMu.Lock()
	done := e.indexUpdated
	e.indexUpdated = true
	e.idxMu.Unlock()
	if done {
		return
	}
	var err error
	switch e.PM.Name {
	case "apt-get":
		err = e.command(ctx, "", "apt-get", "update", "-qq")
	case "dnf", "yum":
		err = e.command(ctx, "", e.PM.Name, "makecache", "-q")
	default:
		return // pacman refreshes as part of -S
	}
	if err != nil {
		e.Log.Warn().Err(err).Msg("package index update failed")
	}
}

// --- users ---

func (e *Executor) createUser(ctx context.Context, u *spec.Unit) error {
	args := []string{"--system"}
	if u.Home != "" {
		args = append(args, "--home-dir", u.Home, "--create-home")
	} else {
		args = append(args, "--no-create-home")
	}
	shell := u.Shell
	if shell == "" {
		shell = "/usr/sbin/nologin"
	}
	args = append(args, "--shell", shell)
	if len(u.Groups) > 0 {
		args = append(args, "--groups", strings.Join(u.Groups, ","))
	}
	args = append(args, u.Name)
	return e.command(ctx, u.Name, "useradd", args...)
}

// --- files ---

// writeFile places the desired content at the unit's path. Services
// that declare pause_during on this unit are stopped for the rewrite
// and started again afterwards.
func (e *Executor) writeFile(ctx context.Context, u *spec.Unit) error {
	paused, err := e.pauseServices(ctx, u.Name)
	if err != nil {
		return err
	}
	defer e.resumeServices(ctx, paused)

	data, err := probe.DesiredFileContent(u)
	if err != nil {
		return errdefs.Wrap(errdefs.ActionFailure, u.Name, err)
	}
	mode, err := strconv.ParseUint(u.Mode, 8, 32)
	if err != nil {
		return errdefs.Newf(errdefs.ActionFailure, u.Name, "invalid mode %q", u.Mode)
	}

	if err := e.Snap.Save(u.Path); err != nil {
		return errdefs.Wrap(errdefs.ActionFailure, u.Name, err)
	}
	if err := os.MkdirAll(filepath.Dir(u.Path), 0755); err != nil {
		return errdefs.Wrap(errdefs.ActionFailure, u.Name, err)
	}
	if err := os.WriteFile(u.Path, data, os.FileMode(mode)); err != nil {
		return errdefs.Wrap(errdefs.ActionFailure, u.Name, err)
	}
	e.Log.Info().Str("path", u.Path).Str("mode", u.Mode).Msg("placed file")
	return nil
}

// pauseServices stops every active service that lists the file unit in
// pause_during and returns the names to start again.
func (e *Executor) pauseServices(ctx context.Context, fileUnit string) ([]string, error) {
	var paused []string
	for _, svc := range e.pausers[fileUnit] {
		res, err := e.Runner.Run(ctx, "systemctl", "is-active", "--quiet", svc)
		if err != nil {
			return paused, errdefs.Wrap(errdefs.ActionFailure, svc, err)
		}
		if res.ExitCode != 0 {
			continue
		}
		e.Log.Info().Str("service", svc).Str("file", fileUnit).Msg("pausing service for rewrite")
		if err := e.systemctl(ctx, svc, "stop", svc); err != nil {
			return paused, err
		}
		paused = append(paused, svc)
	}
	return paused, nil
}

func (e *Executor) resumeServices(ctx context.Context, paused []string) {
	for _, svc := range paused {
		if err := e.systemctl(ctx, svc, "start", svc); err != nil {
			e.Log.Warn().Str("service", svc).Err(err).Msg("could not resume paused service")
		}
	}
}

// --- services ---

func (e *Executor) writeEnvDropin(ctx context.Context, u *spec.Unit) error {
	path := probe.DropinPath(u.Name)
	if err := e.Snap.Save(path); err != nil {
		return errdefs.Wrap(errdefs.ActionFailure, u.Name, err)
	}

	if len(u.Env) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errdefs.Wrap(errdefs.ActionFailure, u.Name, err)
		}
		e.Log.Info().Str("service", u.Name).Msg("removed env drop-in")
	} else {
		content := probe.BuildEnvDropin(u.Env)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return errdefs.Wrap(errdefs.ActionFailure, u.Name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return errdefs.Wrap(errdefs.ActionFailure, u.Name, err)
		}
		e.Log.Info().Str("service", u.Name).Msg("wrote env drop-in")
	}
	return e.systemctl(ctx, u.Name, "daemon-reload")
}

func (e *Executor) setEnablement(ctx context.Context, u *spec.Unit, enable bool) error {
	verb := "disable"
	if enable {
		verb = "enable"
	}
	return e.systemctl(ctx, u.Name, verb, u.Name)
}

func (e *Executor) convergeRunState(ctx context.Context, u *spec.Unit) error {
	if u.State == spec.StateStopped {
		return e.systemctl(ctx, u.Name, "stop", u.Name)
	}
	return e.systemctl(ctx, u.Name, "restart", u.Name)
}

// --- command plumbing ---

func (e *Executor) systemctl(ctx context.Context, unit string, args ...string) error {
	return e.command(ctx, unit, "systemctl", args...)
}

// command runs one collaborator invocation and classifies a non-zero
// exit as ActionFailure carrying the captured stderr.
func (e *Executor) command(ctx context.Context, unit, name string, args ...string) error {
	e.Log.Debug().Str("cmd", name+" "+strings.Join(args, " ")).Msg("exec")
	res, err := e.Runner.Run(ctx, name, args...)
	if err != nil {
		return errdefs.Wrap(errdefs.ActionFailure, unit, err)
	}
	if res.ExitCode != 0 {
		return &errdefs.Error{
			Kind:   errdefs.ActionFailure,
			Unit:   unit,
			Msg:    fmt.Sprintf("%s exited with status %d", name, res.ExitCode),
			Stderr: strings.TrimSpace(res.Stderr),
		}
	}
	return nil
}
