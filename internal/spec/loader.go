package spec

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/converge-sh/converge/internal/errdefs"
)

// specFile mirrors the converge.yaml document.
type specFile struct {
	Name  string           `yaml:"name"`
	Units map[string]*Unit `yaml:"units"`
}

// LoadFile reads and validates a converge.yaml. Relative file-unit
// sources are resolved against the document's directory.
func LoadFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Newf(errdefs.MalformedSpec, "", "cannot read %s: %v", path, err)
	}
	return Load(data, filepath.Dir(path))
}

// Load parses and validates spec bytes. baseDir anchors relative
// file-unit sources; pass "" to leave them as written.
func Load(data []byte, baseDir string) (*Spec, error) {
	var f specFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errdefs.Newf(errdefs.MalformedSpec, "", "parsing spec: %v", err)
	}
	if len(f.Units) == 0 {
		return nil, errdefs.New(errdefs.MalformedSpec, "", "spec declares no units")
	}
	if f.Name == "" {
		f.Name = "default"
	}

	s := &Spec{Name: f.Name, Units: f.Units}
	for name, u := range s.Units {
		if u == nil {
			return nil, errdefs.Newf(errdefs.MalformedSpec, name, "unit has no definition")
		}
		u.Name = name
		if err := validateUnit(u, baseDir); err != nil {
			return nil, err
		}
	}

	// Dependency references must resolve before ordering is attempted.
	for _, name := range s.Names() {
		for _, dep := range s.Units[name].Requires {
			if dep == name {
				return nil, errdefs.New(errdefs.MalformedSpec, name, "unit requires itself")
			}
			if _, ok := s.Units[dep]; !ok {
				return nil, errdefs.Newf(errdefs.MalformedSpec, name, "requires undefined unit %q", dep)
			}
		}
	}

	if cycle := findCycle(s); cycle != nil {
		return nil, errdefs.Newf(errdefs.CyclicDependency, cycle[0],
			"dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	return s, nil
}

func validateUnit(u *Unit, baseDir string) error {
	switch u.Kind {
	case KindPackage:
		// Nothing beyond the name.
	case KindService:
		if u.State == "" {
			u.State = StateStarted
		}
		if u.State != StateStarted && u.State != StateStopped {
			return errdefs.Newf(errdefs.MalformedSpec, u.Name, "invalid service state %q", u.State)
		}
		for _, ref := range append(append([]string{}, u.RestartOn...), u.PauseDuring...) {
			if !contains(u.Requires, ref) {
				return errdefs.Newf(errdefs.MalformedSpec, u.Name,
					"restart_on/pause_during unit %q must also be listed in requires", ref)
			}
		}
	case KindFile:
		if u.Path == "" {
			return errdefs.New(errdefs.MalformedSpec, u.Name, "file unit needs a path")
		}
		if !filepath.IsAbs(u.Path) {
			return errdefs.Newf(errdefs.MalformedSpec, u.Name, "file path %q must be absolute", u.Path)
		}
		if (u.Source == "") == (u.Content == "") {
			return errdefs.New(errdefs.MalformedSpec, u.Name, "file unit needs exactly one of source or content")
		}
		if u.Source != "" && !filepath.IsAbs(u.Source) && baseDir != "" {
			u.Source = filepath.Join(baseDir, u.Source)
		}
		if u.Mode == "" {
			u.Mode = "0644"
		}
		if _, err := strconv.ParseUint(u.Mode, 8, 32); err != nil {
			return errdefs.Newf(errdefs.MalformedSpec, u.Name, "invalid mode %q", u.Mode)
		}
	case KindUser:
		// Home/shell/groups are optional; defaults applied at execution.
	case "":
		return errdefs.New(errdefs.MalformedSpec, u.Name, "unit has no kind")
	default:
		return errdefs.Newf(errdefs.MalformedSpec, u.Name, "unknown kind %q", u.Kind)
	}
	return nil
}

// findCycle runs a depth-first traversal with visiting/visited marks and
// returns one cycle as a name path, or nil if the graph is acyclic.
func findCycle(s *Spec) []string {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(s.Units))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = grey
		stack = append(stack, name)
		deps := append([]string{}, s.Units[name].Requires...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case grey:
				// Cut the stack at the first occurrence of dep and close the loop.
				for i, n := range stack {
					if n == dep {
						cycle = append(append([]string{}, stack[i:]...), dep)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return false
	}

	for _, name := range s.Names() {
		if color[name] == white && visit(name) {
			return cycle
		}
	}
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
