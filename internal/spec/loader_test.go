package spec

import (
	"strings"
	"testing"

	"github.com/converge-sh/converge/internal/errdefs"
)

func TestLoad_Valid(t *testing.T) {
	doc := `
name: web
units:
  nginx:
    kind: package
  site:
    kind: file
    path: /etc/nginx/conf.d/site.conf
    content: "server {}"
    requires: [nginx]
  nginx-service:
    kind: service
    enabled: true
    state: started
    requires: [nginx, site]
`
	s, err := Load([]byte(doc), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name != "web" {
		t.Errorf("name: got %q, want web", s.Name)
	}
	if len(s.Units) != 3 {
		t.Fatalf("expected 3 units, got %d", len(s.Units))
	}
	if s.Units["site"].Mode != "0644" {
		t.Errorf("file mode default not applied, got %q", s.Units["site"].Mode)
	}
	if s.Units["nginx-service"].Name != "nginx-service" {
		t.Errorf("unit name not backfilled")
	}
}

func TestLoad_DefaultServiceState(t *testing.T) {
	doc := `
units:
  sshd:
    kind: service
    enabled: true
`
	s, err := Load([]byte(doc), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Units["sshd"].State != StateStarted {
		t.Errorf("got state %q, want %q", s.Units["sshd"].State, StateStarted)
	}
}

func TestLoad_UndefinedDependency(t *testing.T) {
	doc := `
units:
  a:
    kind: package
    requires: [ghost]
`
	_, err := Load([]byte(doc), "")
	if !errdefs.IsKind(err, errdefs.MalformedSpec) {
		t.Fatalf("expected MalformedSpec, got %v", err)
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error should name the missing unit: %v", err)
	}
}

func TestLoad_Cycle(t *testing.T) {
	doc := `
units:
  a:
    kind: package
    requires: [b]
  b:
    kind: package
    requires: [a]
`
	_, err := Load([]byte(doc), "")
	if !errdefs.IsKind(err, errdefs.CyclicDependency) {
		t.Fatalf("expected CyclicDependency, got %v", err)
	}
}

func TestLoad_LongerCycleNamesPath(t *testing.T) {
	doc := `
units:
  a:
    kind: package
    requires: [b]
  b:
    kind: package
    requires: [c]
  c:
    kind: package
    requires: [a]
`
	_, err := Load([]byte(doc), "")
	if !errdefs.IsKind(err, errdefs.CyclicDependency) {
		t.Fatalf("expected CyclicDependency, got %v", err)
	}
	for _, n := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), n) {
			t.Errorf("cycle message should mention %q: %v", n, err)
		}
	}
}

func TestLoad_SelfRequire(t *testing.T) {
	doc := `
units:
  a:
    kind: package
    requires: [a]
`
	_, err := Load([]byte(doc), "")
	if !errdefs.IsKind(err, errdefs.MalformedSpec) {
		t.Fatalf("expected MalformedSpec, got %v", err)
	}
}

func TestLoad_UnknownKind(t *testing.T) {
	doc := `
units:
  a:
    kind: firewall
`
	_, err := Load([]byte(doc), "")
	if !errdefs.IsKind(err, errdefs.MalformedSpec) {
		t.Fatalf("expected MalformedSpec, got %v", err)
	}
}

func TestLoad_FileNeedsOneContentSource(t *testing.T) {
	for name, body := range map[string]string{
		"neither": `
units:
  f:
    kind: file
    path: /tmp/x
`,
		"both": `
units:
  f:
    kind: file
    path: /tmp/x
    content: hi
    source: ./x
`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load([]byte(body), ""); !errdefs.IsKind(err, errdefs.MalformedSpec) {
				t.Fatalf("expected MalformedSpec, got %v", err)
			}
		})
	}
}

func TestLoad_RelativePathRejected(t *testing.T) {
	doc := `
units:
  f:
    kind: file
    path: etc/thing.conf
    content: hi
`
	if _, err := Load([]byte(doc), ""); !errdefs.IsKind(err, errdefs.MalformedSpec) {
		t.Fatalf("expected MalformedSpec, got %v", err)
	}
}

func TestLoad_SourceResolvedAgainstBaseDir(t *testing.T) {
	doc := `
units:
  f:
    kind: file
    path: /etc/app.conf
    source: app.conf
`
	s, err := Load([]byte(doc), "/srv/specs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Units["f"].Source; got != "/srv/specs/app.conf" {
		t.Errorf("source: got %q", got)
	}
}

func TestLoad_RestartOnMustBeRequired(t *testing.T) {
	doc := `
units:
  conf:
    kind: file
    path: /etc/x.conf
    content: hi
  svc:
    kind: service
    enabled: true
    restart_on: [conf]
`
	if _, err := Load([]byte(doc), ""); !errdefs.IsKind(err, errdefs.MalformedSpec) {
		t.Fatalf("expected MalformedSpec, got %v", err)
	}
}

func TestLoad_Empty(t *testing.T) {
	if _, err := Load([]byte("units: {}"), ""); !errdefs.IsKind(err, errdefs.MalformedSpec) {
		t.Fatalf("expected MalformedSpec, got %v", err)
	}
}
