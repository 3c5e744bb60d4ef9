package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/converge-sh/converge/internal/drift"
	"github.com/converge-sh/converge/internal/errdefs"
	"github.com/converge-sh/converge/internal/planner"
	"github.com/converge-sh/converge/internal/probe"
	"github.com/converge-sh/converge/internal/report"
	"github.com/converge-sh/converge/internal/run"
	"github.com/converge-sh/converge/internal/spec"
)

// fakeRunner records every invocation and fails commands matched by failOn.
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	failOn func(argv []string) bool
	stderr string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (*run.Result, error) {
	argv := append([]string{name}, args...)
	f.mu.Lock()
	f.calls = append(f.calls, argv)
	f.mu.Unlock()
	if f.failOn != nil && f.failOn(argv) {
		return &run.Result{ExitCode: 1, Stderr: f.stderr}, nil
	}
	return &run.Result{}, nil
}

func (f *fakeRunner) called(want ...string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, argv := range f.calls {
		if strings.Join(argv, " ") == strings.Join(want, " ") {
			return true
		}
	}
	return false
}

// fakePM avoids the index-update special cases of real managers.
var fakePM = &probe.PackageManager{
	Name:    "fakepm",
	Install: []string{"fakepm", "add"},
	Remove:  []string{"fakepm", "del"},
	Query:   []string{"fakepm", "info"},
}

func newExecutor(t *testing.T, r run.Runner) *Executor {
	t.Helper()
	return &Executor{
		Runner: r,
		PM:     fakePM,
		Snap:   NewSnapshot(t.TempDir(), "test"),
		Log:    zerolog.Nop(),
	}
}

func loadSpec(t *testing.T, doc string) *spec.Spec {
	t.Helper()
	s, err := spec.Load([]byte(doc), "")
	if err != nil {
		t.Fatalf("loading spec: %v", err)
	}
	return s
}

func buildPlan(t *testing.T, s *spec.Spec, drifts []drift.Drift) *planner.Plan {
	t.Helper()
	p, err := planner.Build(s, drifts)
	if err != nil {
		t.Fatalf("planning: %v", err)
	}
	return p
}

func allMissing(s *spec.Spec) []drift.Drift {
	var out []drift.Drift
	for _, name := range s.Names() {
		out = append(out, drift.Drift{Unit: s.Units[name], Status: drift.Missing, Detail: "missing"})
	}
	return out
}

func outcomes(rep *report.Report) []report.Outcome {
	var out []report.Outcome
	for _, a := range rep.Actions {
		out = append(out, a.Outcome)
	}
	return out
}

func TestRun_AllApplied(t *testing.T) {
	s := loadSpec(t, `
units:
  a:
    kind: package
  b:
    kind: package
`)
	r := &fakeRunner{}
	e := newExecutor(t, r)
	rep := report.New("test")

	if err := e.Run(context.Background(), s, buildPlan(t, s, allMissing(s)), rep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, o := range outcomes(rep) {
		if o != report.Applied {
			t.Errorf("action %d: got %s, want applied", i, o)
		}
	}
	if !r.called("fakepm", "add", "a") || !r.called("fakepm", "add", "b") {
		t.Errorf("install commands missing: %v", r.calls)
	}
}

func TestRun_FailureSkipsRestAndRollsBack(t *testing.T) {
	s := loadSpec(t, `
units:
  a:
    kind: package
  b:
    kind: package
  c:
    kind: package
`)
	r := &fakeRunner{
		failOn: func(argv []string) bool {
			return strings.Join(argv, " ") == "fakepm add b"
		},
		stderr: "no such package b",
	}
	e := newExecutor(t, r)
	rep := report.New("test")

	err := e.Run(context.Background(), s, buildPlan(t, s, allMissing(s)), rep)
	if !errdefs.IsKind(err, errdefs.ActionFailure) {
		t.Fatalf("expected ActionFailure, got %v", err)
	}

	got := outcomes(rep)
	want := []report.Outcome{report.RolledBack, report.Failed, report.Skipped}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("outcomes: got %v, want %v", got, want)
		}
	}
	if rep.Actions[1].Stderr != "no such package b" {
		t.Errorf("failed action should carry stderr, got %q", rep.Actions[1].Stderr)
	}
	if !r.called("fakepm", "del", "a") {
		t.Errorf("expected rollback removal of a: %v", r.calls)
	}
	if r.called("fakepm", "add", "c") {
		t.Errorf("skipped action must not execute: %v", r.calls)
	}
}

func TestRun_FailedRollbackLeavesApplied(t *testing.T) {
	s := loadSpec(t, `
units:
  a:
    kind: package
  b:
    kind: package
`)
	r := &fakeRunner{
		failOn: func(argv []string) bool {
			cmd := strings.Join(argv, " ")
			return cmd == "fakepm add b" || cmd == "fakepm del a"
		},
	}
	e := newExecutor(t, r)
	rep := report.New("test")

	if err := e.Run(context.Background(), s, buildPlan(t, s, allMissing(s)), rep); err == nil {
		t.Fatal("expected failure")
	}
	if got := outcomes(rep); got[0] != report.Applied {
		t.Errorf("rollback failed, outcome must stay applied, got %s", got[0])
	}
}

func TestRun_FileWriteAndRestoreOnRollback(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "app.conf")
	os.WriteFile(conf, []byte("original"), 0644)

	s := loadSpec(t, `
units:
  conf:
    kind: file
    path: `+conf+`
    content: updated
  app:
    kind: package
    requires: [conf]
`)
	r := &fakeRunner{
		failOn: func(argv []string) bool {
			return strings.Join(argv, " ") == "fakepm add app"
		},
	}
	e := newExecutor(t, r)
	rep := report.New("test")

	drifts := []drift.Drift{
		{Unit: s.Units["conf"], Status: drift.Modified, Detail: "content differs"},
		{Unit: s.Units["app"], Status: drift.Missing, Detail: "missing"},
	}
	if err := e.Run(context.Background(), s, buildPlan(t, s, drifts), rep); err == nil {
		t.Fatal("expected failure")
	}

	data, _ := os.ReadFile(conf)
	if string(data) != "original" {
		t.Errorf("file not restored on rollback, got %q", data)
	}
	if got := outcomes(rep); got[0] != report.RolledBack {
		t.Errorf("configure outcome: got %s, want rolled-back", got[0])
	}
}

func TestRun_NewFileDeletedOnRollback(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "fresh.conf")

	s := loadSpec(t, `
units:
  conf:
    kind: file
    path: `+conf+`
    content: hello
  app:
    kind: package
    requires: [conf]
`)
	r := &fakeRunner{
		failOn: func(argv []string) bool {
			return strings.Join(argv, " ") == "fakepm add app"
		},
	}
	e := newExecutor(t, r)
	rep := report.New("test")

	drifts := []drift.Drift{
		{Unit: s.Units["conf"], Status: drift.Missing, Detail: "missing"},
		{Unit: s.Units["app"], Status: drift.Missing, Detail: "missing"},
	}
	if err := e.Run(context.Background(), s, buildPlan(t, s, drifts), rep); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := os.Stat(conf); !os.IsNotExist(err) {
		t.Errorf("file created by the failed run should have been deleted")
	}
}

func TestRun_FileWriteAppliesMode(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "hook.sh")

	s := loadSpec(t, `
units:
  hook:
    kind: file
    path: `+script+`
    content: "#!/bin/sh\n"
    mode: "0755"
`)
	e := newExecutor(t, &fakeRunner{})
	rep := report.New("test")

	drifts := []drift.Drift{{Unit: s.Units["hook"], Status: drift.Missing, Detail: "missing"}}
	if err := e.Run(context.Background(), s, buildPlan(t, s, drifts), rep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(script)
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("mode: got %o, want 0755", info.Mode().Perm())
	}
}

func TestRun_ServiceOps(t *testing.T) {
	s := loadSpec(t, `
units:
  api:
    kind: service
    enabled: true
    state: started
`)
	r := &fakeRunner{}
	e := newExecutor(t, r)
	rep := report.New("test")

	drifts := []drift.Drift{{
		Unit: s.Units["api"], Status: drift.Modified, Detail: "service not enabled",
		Svc: &probe.ServiceStatus{Found: true, Enabled: false, Active: false},
	}}
	if err := e.Run(context.Background(), s, buildPlan(t, s, drifts), rep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.called("systemctl", "enable", "api") {
		t.Errorf("expected enable: %v", r.calls)
	}
	if !r.called("systemctl", "restart", "api") {
		t.Errorf("expected restart: %v", r.calls)
	}
}

func TestRun_StopsServiceDesiredStopped(t *testing.T) {
	s := loadSpec(t, `
units:
  api:
    kind: service
    state: stopped
`)
	r := &fakeRunner{}
	e := newExecutor(t, r)
	rep := report.New("test")

	drifts := []drift.Drift{{
		Unit: s.Units["api"], Status: drift.Modified, Detail: "service should be stopped",
		Svc: &probe.ServiceStatus{Found: true, Enabled: false, Active: true},
	}}
	if err := e.Run(context.Background(), s, buildPlan(t, s, drifts), rep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.called("systemctl", "stop", "api") {
		t.Errorf("expected stop: %v", r.calls)
	}
}

func TestRun_EnvDropin(t *testing.T) {
	orig := probe.DropinBaseDir
	probe.DropinBaseDir = t.TempDir()
	t.Cleanup(func() { probe.DropinBaseDir = orig })

	s := loadSpec(t, `
units:
  api:
    kind: service
    enabled: true
    state: started
    env:
      PORT: "8080"
`)
	r := &fakeRunner{}
	e := newExecutor(t, r)
	rep := report.New("test")

	drifts := []drift.Drift{{
		Unit: s.Units["api"], Status: drift.Modified, Detail: "env drop-in differs",
		Svc: &probe.ServiceStatus{Found: true, Enabled: true, Active: true},
	}}
	if err := e.Run(context.Background(), s, buildPlan(t, s, drifts), rep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(probe.DropinPath("api"))
	if err != nil {
		t.Fatalf("drop-in not written: %v", err)
	}
	if !strings.Contains(string(data), `Environment="PORT=8080"`) {
		t.Errorf("unexpected drop-in content: %q", data)
	}
	if !r.called("systemctl", "daemon-reload") {
		t.Errorf("expected daemon-reload: %v", r.calls)
	}
	if !r.called("systemctl", "restart", "api") {
		t.Errorf("env change must restart: %v", r.calls)
	}
}

func TestRun_PauseDuringFileRewrite(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "kea.conf")
	os.WriteFile(conf, []byte("old"), 0644)

	s := loadSpec(t, `
units:
  kea-config:
    kind: file
    path: `+conf+`
    content: new
  kea-dhcp4:
    kind: service
    enabled: true
    state: started
    requires: [kea-config]
    restart_on: [kea-config]
    pause_during: [kea-config]
`)
	r := &fakeRunner{}
	e := newExecutor(t, r)
	rep := report.New("test")

	drifts := []drift.Drift{
		{Unit: s.Units["kea-config"], Status: drift.Modified, Detail: "content differs"},
		{Unit: s.Units["kea-dhcp4"], Status: drift.InSync,
			Svc: &probe.ServiceStatus{Found: true, Enabled: true, Active: true}},
	}
	if err := e.Run(context.Background(), s, buildPlan(t, s, drifts), rep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.called("systemctl", "stop", "kea-dhcp4") {
		t.Errorf("service should pause during rewrite: %v", r.calls)
	}
	if !r.called("systemctl", "start", "kea-dhcp4") {
		t.Errorf("service should resume after rewrite: %v", r.calls)
	}
	data, _ := os.ReadFile(conf)
	if string(data) != "new" {
		t.Errorf("file not rewritten, got %q", data)
	}
}

func TestRun_EmptyPlanDoesNothing(t *testing.T) {
	s := loadSpec(t, `
units:
  a:
    kind: package
`)
	r := &fakeRunner{}
	e := newExecutor(t, r)
	rep := report.New("test")

	plan := buildPlan(t, s, []drift.Drift{{Unit: s.Units["a"], Status: drift.InSync}})
	if err := e.Run(context.Background(), s, plan, rep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("converged host must see zero commands, got %v", r.calls)
	}
	if len(rep.Actions) != 0 {
		t.Errorf("no actions expected, got %d", len(rep.Actions))
	}
}

func TestRun_AptIndexRefreshedOnceBeforeInstalls(t *testing.T) {
	s := loadSpec(t, `
units:
  a:
    kind: package
  b:
    kind: package
`)
	r := &fakeRunner{}
	e := newExecutor(t, r)
	e.PM = &probe.PackageManager{
		Name:    "apt-get",
		Install: []string{"apt-get", "install", "-y"},
		Remove:  []string{"apt-get", "remove", "-y"},
		Query:   []string{"dpkg-query", "-W"},
	}
	rep := report.New("test")

	if err := e.Run(context.Background(), s, buildPlan(t, s, allMissing(s)), rep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updates := 0
	for _, argv := range r.calls {
		if strings.Join(argv, " ") == "apt-get update -qq" {
			updates++
		}
	}
	if updates != 1 {
		t.Errorf("index should refresh exactly once, got %d", updates)
	}
}
