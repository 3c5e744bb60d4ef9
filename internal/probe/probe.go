// Package probe implements read-only queries against host state:
// installed packages, systemd services, file contents and system users.
// Probes never mutate anything; the executor owns all side effects.
package probe

import (
	"context"
	"time"
)

// Observation is the result of one probe query.
type Observation struct {
	Present   bool
	Digest    string // package version or sha256:<hex> content hash
	CheckedAt time.Time
}

// ServiceStatus is the observed state of a systemd service.
type ServiceStatus struct {
	Found   bool // unit file known to systemd
	Enabled bool
	// Static marks units whose enablement is fixed by the unit file
	// (is-enabled reports static or alias); enable/disable does not
	// apply to them.
	Static bool
	Active bool
	// EnvDigest is the hash of the managed env drop-in, "" if absent.
	EnvDigest string
	CheckedAt time.Time
}

// PackageProbe reports whether a package is installed.
type PackageProbe interface {
	Installed(ctx context.Context, name string) (Observation, error)
}

// ServiceProbe reports the status of a systemd service.
type ServiceProbe interface {
	Status(ctx context.Context, name string) (ServiceStatus, error)
}

// FileProbe reports presence and content hash of a file on disk.
type FileProbe interface {
	Hash(path string) (Observation, error)
}

// UserProbe reports whether a system user exists.
type UserProbe interface {
	Exists(name string) (Observation, error)
}

// Set bundles the probes the drift detector needs.
type Set struct {
	Package PackageProbe
	Service ServiceProbe
	File    FileProbe
	User    UserProbe
}
