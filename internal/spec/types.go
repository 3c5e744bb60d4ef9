// Package spec loads and validates the declarative host description
// (converge.yaml) into the in-memory unit model.
package spec

import "sort"

// Kind identifies what a unit manages on the host.
type Kind string

const (
	KindPackage Kind = "package"
	KindService Kind = "service"
	KindFile    Kind = "file"
	KindUser    Kind = "user"
)

// ServiceState is the desired run state of a service unit.
const (
	StateStarted = "started"
	StateStopped = "stopped"
)

// Unit is one desired unit of host state. Fields beyond Kind and
// Requires are kind-specific; the loader rejects mismatched use.
type Unit struct {
	Name     string   `yaml:"-"`
	Kind     Kind     `yaml:"kind"`
	Requires []string `yaml:"requires,omitempty"`

	// service
	Enabled     bool              `yaml:"enabled,omitempty"`
	State       string            `yaml:"state,omitempty"` // started or stopped
	Env         map[string]string `yaml:"env,omitempty"`
	RestartOn   []string          `yaml:"restart_on,omitempty"`   // file units that force a restart on change
	PauseDuring []string          `yaml:"pause_during,omitempty"` // file units rewritten only while stopped

	// file
	Path    string `yaml:"path,omitempty"`
	Source  string `yaml:"source,omitempty"` // local file providing the content
	Content string `yaml:"content,omitempty"`
	Mode    string `yaml:"mode,omitempty"` // octal string, e.g. "0644"

	// user
	Home   string   `yaml:"home,omitempty"`
	Shell  string   `yaml:"shell,omitempty"`
	Groups []string `yaml:"groups,omitempty"`
}

// Spec is the validated desired-state document.
type Spec struct {
	Name  string
	Units map[string]*Unit
}

// Names returns all unit names in lexicographic order.
func (s *Spec) Names() []string {
	names := make([]string, 0, len(s.Units))
	for n := range s.Units {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
