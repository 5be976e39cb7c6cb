// Package hostinfo supplies the opaque platform identifier and installed
// base-OS version consumed by the Service Integrator's template rendering
// and the orchestrator's CHECK_OS_VERSION step (spec.md §6 "Environment",
// §4.10/§4.11).
package hostinfo

import (
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/sonic-net/sonic-package-manager/internal/version"
)

const (
	// DefaultVersionFile is where SONiC records the installed base-OS
	// version, in a small YAML document.
	DefaultVersionFile = "/etc/sonic/sonic_version.yml"

	errReadFile  = "failed to read host version file %s"
	errParseFile = "failed to parse host version file %s"

	unknownPlatform = "unknown"
)

// Provider exposes the platform identifier and base-OS version. The
// default implementation reads them from the host filesystem; tests inject
// a Fixed provider.
type Provider interface {
	Platform() string
	BaseOSVersion() (version.Version, error)
}

// versionDoc is the subset of sonic_version.yml this package reads.
type versionDoc struct {
	BuildVersion string `yaml:"build_version"`
	AsicType     string `yaml:"asic_type"`
}

// File is the default Provider. It returns the platform identifier it was
// constructed with, and reads the base-OS version from a sonic_version.yml
// document via afero so tests can point at a temporary root.
type File struct {
	fsys        afero.Fs
	platform    string
	versionFile string
}

// New returns a File provider. platform is the opaque platform identifier
// (read once at startup by the CLI, per spec.md §6, and treated as opaque
// by every consumer); versionFile is the sonic_version.yml path.
func New(fsys afero.Fs, platform, versionFile string) *File {
	if platform == "" {
		platform = unknownPlatform
	}
	return &File{fsys: fsys, platform: platform, versionFile: versionFile}
}

var _ Provider = (*File)(nil)

// Platform returns the opaque platform identifier.
func (f *File) Platform() string { return f.platform }

// BaseOSVersion reads and parses the installed base-OS version.
func (f *File) BaseOSVersion() (version.Version, error) {
	data, err := afero.ReadFile(f.fsys, f.versionFile)
	if err != nil {
		return version.Version{}, errors.Wrapf(err, errReadFile, f.versionFile)
	}

	var doc versionDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return version.Version{}, errors.Wrapf(err, errParseFile, f.versionFile)
	}

	raw := strings.TrimPrefix(strings.TrimSpace(doc.BuildVersion), "v")
	if raw == "" {
		return version.Version{}, errors.Errorf("%s: build_version is empty", f.versionFile)
	}
	return version.Parse(raw)
}

// Fixed is a Provider returning constant values, for tests.
type Fixed struct {
	PlatformValue string
	Version       version.Version
	Err           error
}

var _ Provider = (*Fixed)(nil)

// Platform implements Provider.
func (f Fixed) Platform() string { return f.PlatformValue }

// BaseOSVersion implements Provider.
func (f Fixed) BaseOSVersion() (version.Version, error) { return f.Version, f.Err }
