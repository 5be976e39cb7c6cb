// Package config carries the process-wide filesystem paths the package
// manager reads and writes, so every other package is testable against a
// temporary root without code changes (spec.md §6, "Index file"/"Generated
// files").
package config

import "path/filepath"

// Paths is the set of on-disk locations the orchestrator, service
// integrator, and monitor integrator operate on. Defaults mirror spec.md §6
// exactly; tests override Root (and, where needed, individual fields) to
// point at an afero.MemMapFs-backed temporary tree.
type Paths struct {
	// Root is the package manager's own state directory.
	Root string
	// UnitDir is where systemd unit files are written.
	UnitDir string
	// MgmtScriptDir is where the <feature>.sh management script is written.
	MgmtScriptDir string
	// ContainerScriptDir is where the container control script is written.
	ContainerScriptDir string
	// MonitDir is where monit fragments are written.
	MonitDir string
	// SonicDir holds the reverse-dependency files.
	SonicDir string
}

// Default returns the paths described by spec.md §6.
func Default() Paths {
	return Paths{
		Root:               "/var/lib/sonic-package-manager",
		UnitDir:            "/usr/lib/systemd/system",
		MgmtScriptDir:      "/usr/local/bin",
		ContainerScriptDir: "/usr/bin",
		MonitDir:           "/etc/monit/conf.d",
		SonicDir:           "/etc/sonic",
	}
}

// IndexFile is the repository index document path.
func (p Paths) IndexFile() string { return filepath.Join(p.Root, "packages.yml") }

// MetadataRoot is the directory under which per-package metadata folders
// are stored.
func (p Paths) MetadataRoot() string { return p.Root }

// LockFile is the process-wide advisory lock path (spec.md §5).
func (p Paths) LockFile() string { return filepath.Join(p.Root, ".lock") }
