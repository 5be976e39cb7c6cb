// Package manifest loads a package's descriptor from its metadata folder,
// per spec.md §4.2.
package manifest

import (
	"encoding/json"
	"io/fs"
	"path/filepath"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/sonic-net/sonic-package-manager/internal/version"
)

const (
	errReadFile  = "failed to read %s"
	errParseFile = "failed to parse %s"

	defaultUser = "root"
)

// candidateFiles lists the manifest file names in priority order.
var candidateFiles = []string{"manifest.json", "manifest.yml", "manifest.yaml"}

// Mount is a `--mount type=<t>,source=<s>,target=<d>` docker mount spec.
type Mount struct {
	Type   string `json:"type" yaml:"type"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Package is the `package.*` section of the manifest.
type Package struct {
	SonicVersion  version.Constraint                      `json:"sonic-version" yaml:"sonic-version"`
	Depends       []version.PackageConstraint             `json:"depends" yaml:"depends"`
	Breaks        []version.PackageConstraint             `json:"breaks" yaml:"breaks"`
	Changelog     map[string][]string                     `json:"changelog" yaml:"changelog"`
	InitialConfig map[string]map[string]map[string]string `json:"initial-config" yaml:"initial-config"`
}

// Service is the `service.*` section of the manifest.
type Service struct {
	Name        string   `json:"name" yaml:"name"`
	AsicService bool     `json:"asic-service" yaml:"asic-service"`
	HostService bool     `json:"host-service" yaml:"host-service"`
	User        string   `json:"user" yaml:"user"`
	Requires    []string `json:"requires" yaml:"requires"`
	Requisite   []string `json:"requisite" yaml:"requisite"`
	After       []string `json:"after" yaml:"after"`
	Before      []string `json:"before" yaml:"before"`
	WantedBy    []string `json:"wanted-by" yaml:"wanted-by"`
	DependentOf []string `json:"dependent-of" yaml:"dependent-of"`
	Peer        string   `json:"peer" yaml:"peer"`
}

// wireService mirrors Service but leaves host-service as a pointer so Load
// can tell "absent" (defaults to true) apart from an explicit false.
type wireService struct {
	Name        string   `json:"name" yaml:"name"`
	AsicService bool     `json:"asic-service" yaml:"asic-service"`
	HostService *bool    `json:"host-service" yaml:"host-service"`
	User        string   `json:"user" yaml:"user"`
	Requires    []string `json:"requires" yaml:"requires"`
	Requisite   []string `json:"requisite" yaml:"requisite"`
	After       []string `json:"after" yaml:"after"`
	Before      []string `json:"before" yaml:"before"`
	WantedBy    []string `json:"wanted-by" yaml:"wanted-by"`
	DependentOf []string `json:"dependent-of" yaml:"dependent-of"`
	Peer        string   `json:"peer" yaml:"peer"`
}

// Process is one entry of the manifest's top-level `processes` list,
// consumed by the Monitor Integrator (spec.md §4.8).
type Process struct {
	Name     string `json:"name" yaml:"name"`
	Command  string `json:"command" yaml:"command"`
	Critical bool   `json:"critical" yaml:"critical"`
}

// Container is the `container.*` section of the manifest.
type Container struct {
	Privileged           bool              `json:"privileged" yaml:"privileged"`
	Volumes              []string          `json:"volumes" yaml:"volumes"`
	Mounts               []Mount           `json:"mounts" yaml:"mounts"`
	Environment          map[string]string `json:"environment" yaml:"environment"`
	NoDefaultTmpfsVolume bool              `json:"no_default_tmpfs_volume" yaml:"no_default_tmpfs_volume"`
}

// Manifest is a package's full descriptor.
type Manifest struct {
	Package   Package   `json:"package" yaml:"package"`
	Service   Service   `json:"service" yaml:"service"`
	Container Container `json:"container" yaml:"container"`
	Processes []Process `json:"processes" yaml:"processes"`
}

// wireManifest is the on-disk shape, used only during decode so that
// host-service's true-default can be distinguished from an explicit false.
type wireManifest struct {
	Package   Package     `json:"package" yaml:"package"`
	Service   wireService `json:"service" yaml:"service"`
	Container Container   `json:"container" yaml:"container"`
	Processes []Process   `json:"processes" yaml:"processes"`
}

// Default synthesizes the fallback manifest used when no manifest file is
// present in the package's metadata folder: feature name equals the package
// name, host-service true, asic-service false, user root, sonic-version "*",
// no dependencies or conflicts. Manifest has no version field, so no
// version is synthesized.
func Default(packageName string) Manifest {
	return Manifest{
		Package: Package{
			SonicVersion: version.Any(),
		},
		Service: Service{
			Name:        packageName,
			HostService: true,
			User:        defaultUser,
		},
	}
}

// Load reads the first existing file among manifest.json, manifest.yml,
// manifest.yaml in dir. If none exists, it returns the synthesized default
// for packageName. It fails only on parse errors of an existing file.
func Load(fsys afero.Fs, dir, packageName string) (Manifest, error) {
	for _, name := range candidateFiles {
		path := filepath.Join(dir, name)
		data, err := afero.ReadFile(fsys, path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Manifest{}, errors.Wrapf(err, errReadFile, path)
		}

		m, err := decode(name, data)
		if err != nil {
			return Manifest{}, errors.Wrapf(err, errParseFile, path)
		}
		applyDefaults(&m, packageName)
		return m, nil
	}

	return Default(packageName), nil
}

func decode(name string, data []byte) (Manifest, error) {
	var w wireManifest
	if filepath.Ext(name) == ".json" {
		if err := json.Unmarshal(data, &w); err != nil {
			return Manifest{}, err
		}
	} else if err := yaml.Unmarshal(data, &w); err != nil {
		return Manifest{}, err
	}

	hostService := true
	if w.Service.HostService != nil {
		hostService = *w.Service.HostService
	}

	return Manifest{
		Package: w.Package,
		Service: Service{
			Name:        w.Service.Name,
			AsicService: w.Service.AsicService,
			HostService: hostService,
			User:        w.Service.User,
			Requires:    w.Service.Requires,
			Requisite:   w.Service.Requisite,
			After:       w.Service.After,
			Before:      w.Service.Before,
			WantedBy:    w.Service.WantedBy,
			DependentOf: w.Service.DependentOf,
			Peer:        w.Service.Peer,
		},
		Container: w.Container,
		Processes: w.Processes,
	}, nil
}

// applyDefaults fills fields left unset by a partially-specified manifest
// file, mirroring the defaults carried by the synthesized manifest.
func applyDefaults(m *Manifest, packageName string) {
	if m.Service.Name == "" {
		m.Service.Name = packageName
	}
	if m.Service.User == "" {
		m.Service.User = defaultUser
	}
}
