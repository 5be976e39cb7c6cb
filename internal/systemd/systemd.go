// Package systemd implements the Service Integrator (spec.md §4.7): it
// renders unit files, the management script, the container control script,
// and the reverse-dependency files, and reloads the supervisor after every
// install/uninstall.
package systemd

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os/exec"
	"sort"
	"strings"
	"text/template"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sonic-net/sonic-package-manager/internal/config"
	"github.com/sonic-net/sonic-package-manager/internal/manifest"
	"github.com/sonic-net/sonic-package-manager/internal/spmerrors"
)

const (
	phaseInstallSystemd = "INSTALL_SYSTEMD"

	executableMode = 0o755

	errRenderUnit      = "failed to render unit file for %q"
	errWriteUnit       = "failed to write unit file %q"
	errRenderMgmt      = "failed to render management script for %q"
	errWriteMgmt       = "failed to write management script %q"
	errRenderContainer = "failed to render container control script for %q"
	errWriteContainer  = "failed to write container control script %q"
	errReverseDepWrite = "failed to update reverse-dependency file %q"
	errReverseDepRead  = "failed to read reverse-dependency file %q"
	errUnsupportedSvc  = "%q is not a supported dependent-of service"
	errReload          = "failed to reload the service supervisor"

	supportedDependentOf = "swss"
)

// UnitRef is one entry in a unit file's Requires/Requisite/After/Before/
// WantedBy list, annotated with whether the referenced unit is itself a
// package managed by this tool (used by the template for ordering
// semantics, per spec.md §4.7).
type UnitRef struct {
	Name      string
	IsPackage bool
}

// UnitData is the template input for a single unit file.
type UnitData struct {
	Feature       string
	Description   string
	Requires      []UnitRef
	Requisite     []UnitRef
	After         []UnitRef
	Before        []UnitRef
	WantedBy      []UnitRef
	Platform      string
	User          string
	MultiInstance bool
}

// MgmtScriptData is the template input for the management script.
type MgmtScriptData struct {
	ServiceName                string
	PeerServiceName            string
	DependentServices          []string
	MultiAsicDependentServices []string
	Platform                   string
}

// defaultUnitTemplate and defaultMgmtTemplate are minimal stand-ins for the
// real, site-specific templates; spec.md §1 treats the rendered fragment
// bodies as an external input. Callers with real templates supply them via
// WithTemplates.
const defaultUnitTemplate = `[Unit]
Description={{ .Description }}
{{- range .Requires }}
Requires={{ .Name }}.service
{{- end }}
{{- range .Requisite }}
Requisite={{ .Name }}.service
{{- end }}
{{- range .After }}
After={{ .Name }}.service
{{- end }}
{{- range .Before }}
Before={{ .Name }}.service
{{- end }}
{{- range .WantedBy }}
WantedBy={{ .Name }}.target
{{- end }}

[Service]
User={{ .User }}
ExecStart=/usr/bin/{{ .Feature }}.sh start
ExecStop=/usr/bin/{{ .Feature }}.sh stop

[Install]
WantedBy=multi-user.target
`

const defaultMgmtTemplate = `#!/bin/bash
# Auto-generated by sonic-package-manager for {{ .ServiceName }}.
SERVICE="{{ .ServiceName }}"
PEER="{{ .PeerServiceName }}"
DEPENDENT_SERVICES="{{ range .DependentServices }}{{ . }} {{ end }}"
MULTI_ASIC_DEPENDENT_SERVICES="{{ range .MultiAsicDependentServices }}{{ . }} {{ end }}"
PLATFORM="{{ .Platform }}"
`

// Integrator renders and removes the artifacts described in spec.md §4.7.
type Integrator struct {
	fsys       afero.Fs
	paths      config.Paths
	supervisor Supervisor
	unitTmpl   *template.Template
	mgmtTmpl   *template.Template
}

// Supervisor reloads the host's service supervisor after a unit-file change.
type Supervisor interface {
	Reload(ctx context.Context) error
}

// Systemctl is the default Supervisor, shelling out to systemctl.
type Systemctl struct{}

var _ Supervisor = Systemctl{}

// Reload implements Supervisor via `systemctl daemon-reload`.
func (Systemctl) Reload(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "systemctl", "daemon-reload").Run(); err != nil {
		return errors.Wrap(err, errReload)
	}
	return nil
}

// New returns an Integrator writing artifacts under paths and reloading
// supervisor after each change, using the built-in default templates.
func New(fsys afero.Fs, paths config.Paths, supervisor Supervisor) (*Integrator, error) {
	unitTmpl, err := template.New("unit").Parse(defaultUnitTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse default unit template")
	}
	mgmtTmpl, err := template.New("mgmt").Parse(defaultMgmtTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse default management script template")
	}
	return &Integrator{fsys: fsys, paths: paths, supervisor: supervisor, unitTmpl: unitTmpl, mgmtTmpl: mgmtTmpl}, nil
}

// WithTemplates overrides the unit and management script templates,
// e.g. with site-specific fragments loaded from the package's metadata
// folder.
func (in *Integrator) WithTemplates(unitTmpl, mgmtTmpl *template.Template) {
	if unitTmpl != nil {
		in.unitTmpl = unitTmpl
	}
	if mgmtTmpl != nil {
		in.mgmtTmpl = mgmtTmpl
	}
}

func (in *Integrator) unitPath(feature string, multiInstance bool) string {
	if multiInstance {
		return in.paths.UnitDir + "/" + feature + "@.service"
	}
	return in.paths.UnitDir + "/" + feature + ".service"
}

func (in *Integrator) mgmtScriptPath(feature string) string {
	return in.paths.MgmtScriptDir + "/" + feature + ".sh"
}

func (in *Integrator) containerScriptPath(feature string) string {
	return in.paths.ContainerScriptDir + "/" + feature + ".sh"
}

func (in *Integrator) reverseDepPath(svc string, multiInstance bool) string {
	if multiInstance {
		return in.paths.SonicDir + "/" + svc + "_multi_inst_dependent"
	}
	return in.paths.SonicDir + "/" + svc + "_dependent"
}

// Install renders and writes every artifact for m, then reloads the
// supervisor. isPackage resolves whether a referenced unit name is itself a
// package managed by this tool (the orchestrator has the index available to
// answer this; the integrator does not).
func (in *Integrator) Install(ctx context.Context, m manifest.Manifest, platform string, isPackage func(string) bool) error {
	feature := m.Service.Name

	if err := in.writeUnit(feature, m, platform, isPackage, false); err != nil {
		return err
	}
	if m.Service.AsicService {
		if err := in.writeUnit(feature, m, platform, isPackage, true); err != nil {
			return err
		}
	}
	if err := in.writeMgmtScript(feature, m, platform); err != nil {
		return err
	}
	if err := in.writeContainerScript(feature, m); err != nil {
		return err
	}
	for _, svc := range m.Service.DependentOf {
		if err := in.addReverseDependency(svc, feature, m.Service.AsicService); err != nil {
			return err
		}
	}

	if err := in.supervisor.Reload(ctx); err != nil {
		return spmerrors.NewInstallationError(phaseInstallSystemd, err)
	}
	return nil
}

// Uninstall removes every artifact for m, then reloads the supervisor.
func (in *Integrator) Uninstall(ctx context.Context, m manifest.Manifest) error {
	feature := m.Service.Name

	if err := in.fsys.Remove(in.unitPath(feature, false)); err != nil && !isNotExist(err) {
		return spmerrors.NewInstallationError(phaseInstallSystemd, errors.Wrapf(err, errWriteUnit, in.unitPath(feature, false)))
	}
	if m.Service.AsicService {
		if err := in.fsys.Remove(in.unitPath(feature, true)); err != nil && !isNotExist(err) {
			return spmerrors.NewInstallationError(phaseInstallSystemd, errors.Wrapf(err, errWriteUnit, in.unitPath(feature, true)))
		}
	}
	if err := in.fsys.Remove(in.mgmtScriptPath(feature)); err != nil && !isNotExist(err) {
		return spmerrors.NewInstallationError(phaseInstallSystemd, errors.Wrapf(err, errWriteMgmt, in.mgmtScriptPath(feature)))
	}
	if err := in.fsys.Remove(in.containerScriptPath(feature)); err != nil && !isNotExist(err) {
		return spmerrors.NewInstallationError(phaseInstallSystemd, errors.Wrapf(err, errWriteContainer, in.containerScriptPath(feature)))
	}
	for _, svc := range m.Service.DependentOf {
		if err := in.removeReverseDependency(svc, feature, m.Service.AsicService); err != nil {
			return err
		}
	}

	if err := in.supervisor.Reload(ctx); err != nil {
		return spmerrors.NewInstallationError(phaseInstallSystemd, err)
	}
	return nil
}

func (in *Integrator) writeUnit(feature string, m manifest.Manifest, platform string, isPackage func(string) bool, multiInstance bool) error {
	data := UnitData{
		Feature:       feature,
		Description:   feature + " service",
		Requires:      toRefs(m.Service.Requires, isPackage),
		Requisite:     toRefs(m.Service.Requisite, isPackage),
		After:         toRefs(m.Service.After, isPackage),
		Before:        toRefs(m.Service.Before, isPackage),
		WantedBy:      toRefs(m.Service.WantedBy, isPackage),
		Platform:      platform,
		User:          m.Service.User,
		MultiInstance: multiInstance,
	}

	var buf bytes.Buffer
	if err := in.unitTmpl.Execute(&buf, data); err != nil {
		return spmerrors.NewInstallationError(phaseInstallSystemd, errors.Wrapf(err, errRenderUnit, feature))
	}

	path := in.unitPath(feature, multiInstance)
	if err := writeFile(in.fsys, path, buf.Bytes(), 0o644); err != nil {
		return spmerrors.NewInstallationError(phaseInstallSystemd, errors.Wrapf(err, errWriteUnit, path))
	}
	return nil
}

func (in *Integrator) writeMgmtScript(feature string, m manifest.Manifest, platform string) error {
	data := MgmtScriptData{
		ServiceName:                feature,
		PeerServiceName:            m.Service.Peer,
		DependentServices:          m.Service.DependentOf,
		MultiAsicDependentServices: multiAsicOnly(m),
		Platform:                   platform,
	}

	var buf bytes.Buffer
	if err := in.mgmtTmpl.Execute(&buf, data); err != nil {
		return spmerrors.NewInstallationError(phaseInstallSystemd, errors.Wrapf(err, errRenderMgmt, feature))
	}

	path := in.mgmtScriptPath(feature)
	if err := writeFile(in.fsys, path, buf.Bytes(), executableMode); err != nil {
		return spmerrors.NewInstallationError(phaseInstallSystemd, errors.Wrapf(err, errWriteMgmt, path))
	}
	return nil
}

func multiAsicOnly(m manifest.Manifest) []string {
	if !m.Service.AsicService {
		return nil
	}
	return m.Service.DependentOf
}

// writeContainerScript renders the `docker run` invocation described by
// spec.md §4.7's container-control-script bullet list: privileged flag
// first, then "-t", then one "-v" per volume and one "--mount" per mount in
// declaration order, then one "-e" per environment variable, all
// space-separated. Environment variables are a map in the manifest, so they
// are emitted sorted by key, not in the order the manifest lists them.
func (in *Integrator) writeContainerScript(feature string, m manifest.Manifest) error {
	var opts []string
	if m.Container.Privileged {
		opts = append(opts, "--privileged")
	}
	opts = append(opts, "-t")
	for _, v := range m.Container.Volumes {
		opts = append(opts, fmt.Sprintf("-v %s", v))
	}
	for _, mnt := range m.Container.Mounts {
		opts = append(opts, fmt.Sprintf("--mount type=%s,source=%s,target=%s", mnt.Type, mnt.Source, mnt.Target))
	}
	for _, key := range sortedKeys(m.Container.Environment) {
		opts = append(opts, fmt.Sprintf("-e %s=%s", key, m.Container.Environment[key]))
	}

	script := fmt.Sprintf("#!/bin/bash\n# Auto-generated by sonic-package-manager for %s.\nexec docker run %s %s \"$@\"\n",
		feature, strings.Join(opts, " "), feature)

	path := in.containerScriptPath(feature)
	if err := writeFile(in.fsys, path, []byte(script), executableMode); err != nil {
		return spmerrors.NewInstallationError(phaseInstallSystemd, errors.Wrapf(err, errWriteContainer, path))
	}
	return nil
}

// addReverseDependency appends feature to svc's reverse-dependency file(s),
// de-duplicating. Only "swss" is an accepted svc value.
func (in *Integrator) addReverseDependency(svc, feature string, asicService bool) error {
	if svc != supportedDependentOf {
		return spmerrors.NewInstallationError(phaseInstallSystemd, errors.Errorf(errUnsupportedSvc, svc))
	}

	if err := in.unionAppend(in.reverseDepPath(svc, false), feature); err != nil {
		return spmerrors.NewInstallationError(phaseInstallSystemd, err)
	}
	if asicService {
		if err := in.unionAppend(in.reverseDepPath(svc, true), feature); err != nil {
			return spmerrors.NewInstallationError(phaseInstallSystemd, err)
		}
	}
	return nil
}

func (in *Integrator) removeReverseDependency(svc, feature string, asicService bool) error {
	if svc != supportedDependentOf {
		return spmerrors.NewInstallationError(phaseInstallSystemd, errors.Errorf(errUnsupportedSvc, svc))
	}

	if err := in.setRemove(in.reverseDepPath(svc, false), feature); err != nil {
		return spmerrors.NewInstallationError(phaseInstallSystemd, err)
	}
	if asicService {
		if err := in.setRemove(in.reverseDepPath(svc, true), feature); err != nil {
			return spmerrors.NewInstallationError(phaseInstallSystemd, err)
		}
	}
	return nil
}

func (in *Integrator) readSet(path string) (map[string]bool, error) {
	data, err := afero.ReadFile(in.fsys, path)
	if err != nil {
		if isNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, errors.Wrapf(err, errReverseDepRead, path)
	}
	set := map[string]bool{}
	for _, f := range strings.Fields(string(data)) {
		set[f] = true
	}
	return set, nil
}

func (in *Integrator) writeSet(path string, set map[string]bool) error {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	if err := writeFile(in.fsys, path, []byte(strings.Join(names, " ")+"\n"), 0o644); err != nil {
		return errors.Wrapf(err, errReverseDepWrite, path)
	}
	return nil
}

func (in *Integrator) unionAppend(path, feature string) error {
	set, err := in.readSet(path)
	if err != nil {
		return err
	}
	set[feature] = true
	return in.writeSet(path, set)
}

func (in *Integrator) setRemove(path, feature string) error {
	set, err := in.readSet(path)
	if err != nil {
		return err
	}
	delete(set, feature)
	return in.writeSet(path, set)
}

func toRefs(names []string, isPackage func(string) bool) []UnitRef {
	out := make([]UnitRef, 0, len(names))
	for _, n := range names {
		out = append(out, UnitRef{Name: n, IsPackage: isPackage != nil && isPackage(n)})
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeFile(fsys afero.Fs, path string, data []byte, mode fs.FileMode) error {
	if err := fsys.MkdirAll(dirOf(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(fsys, path, data, mode)
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
