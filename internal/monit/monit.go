// Package monit implements the Monitor Integrator (spec.md §4.8): it
// renders and removes a monit fragment for packages that declare processes
// to watch, and reloads the monitor daemon around any change.
package monit

import (
	"bytes"
	"context"
	"io/fs"
	"os/exec"
	"text/template"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sonic-net/sonic-package-manager/internal/manifest"
	"github.com/sonic-net/sonic-package-manager/internal/spmerrors"
)

const (
	phaseInstallMonit = "INSTALL_MONIT"

	errRenderFragment = "failed to render monit fragment for %q"
	errWriteFragment  = "failed to write monit fragment %q"
	errRemoveFragment = "failed to remove monit fragment %q"
	errReload         = "failed to reload the monitor daemon"
)

// defaultFragmentTemplate stands in for the real, site-specific monit
// fragment body; spec.md §1 treats the rendered fragment contents as an
// external input.
const defaultFragmentTemplate = `# Auto-generated by sonic-package-manager for {{ .Feature }}.
{{- range .Processes }}
check process {{ .Name }} matching "{{ .Command }}"
{{- if .Critical }}
  if does not exist then alert
{{- end }}
{{- end }}
`

// fragmentData is the template input for one monit fragment.
type fragmentData struct {
	Feature   string
	Processes []manifest.Process
}

// Reloader reloads the monitor daemon after a fragment change.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Monit is the default Reloader, shelling out to `monit reload`.
type Monit struct{}

var _ Reloader = Monit{}

// Reload implements Reloader.
func (Monit) Reload(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "monit", "reload").Run(); err != nil {
		return errors.Wrap(err, errReload)
	}
	return nil
}

// Integrator renders/removes monit fragments under dir.
type Integrator struct {
	fsys     afero.Fs
	dir      string
	reloader Reloader
	tmpl     *template.Template
}

// New returns an Integrator writing fragments under dir using the built-in
// default template.
func New(fsys afero.Fs, dir string, reloader Reloader) (*Integrator, error) {
	tmpl, err := template.New("monit").Parse(defaultFragmentTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse default monit fragment template")
	}
	return &Integrator{fsys: fsys, dir: dir, reloader: reloader, tmpl: tmpl}, nil
}

// WithTemplate overrides the fragment template.
func (in *Integrator) WithTemplate(tmpl *template.Template) {
	if tmpl != nil {
		in.tmpl = tmpl
	}
}

func (in *Integrator) fragmentPath(feature string) string {
	return in.dir + "/monit_" + feature
}

// Install writes the fragment for feature if processes is non-empty and
// reloads monit. If processes is empty, no file is generated and no reload
// is performed (spec.md §4.8).
func (in *Integrator) Install(ctx context.Context, feature string, processes []manifest.Process) error {
	if len(processes) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := in.tmpl.Execute(&buf, fragmentData{Feature: feature, Processes: processes}); err != nil {
		return spmerrors.NewInstallationError(phaseInstallMonit, errors.Wrapf(err, errRenderFragment, feature))
	}

	if err := in.fsys.MkdirAll(in.dir, 0o755); err != nil {
		return spmerrors.NewInstallationError(phaseInstallMonit, errors.Wrapf(err, errWriteFragment, in.fragmentPath(feature)))
	}
	if err := afero.WriteFile(in.fsys, in.fragmentPath(feature), buf.Bytes(), 0o644); err != nil {
		return spmerrors.NewInstallationError(phaseInstallMonit, errors.Wrapf(err, errWriteFragment, in.fragmentPath(feature)))
	}

	if err := in.reloader.Reload(ctx); err != nil {
		return spmerrors.NewInstallationError(phaseInstallMonit, err)
	}
	return nil
}

// Uninstall deletes the fragment for feature if present, then reloads
// monit. The delete is idempotent: a missing fragment is not an error, and
// the reload always runs so a previously-installed fragment from an older
// manifest revision is still cleaned up even if the current manifest no
// longer declares processes.
func (in *Integrator) Uninstall(ctx context.Context, feature string) error {
	existed, err := afero.Exists(in.fsys, in.fragmentPath(feature))
	if err != nil {
		return spmerrors.NewInstallationError(phaseInstallMonit, errors.Wrapf(err, errRemoveFragment, in.fragmentPath(feature)))
	}
	if existed {
		if err := in.fsys.Remove(in.fragmentPath(feature)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return spmerrors.NewInstallationError(phaseInstallMonit, errors.Wrapf(err, errRemoveFragment, in.fragmentPath(feature)))
		}
	}
	if err := in.reloader.Reload(ctx); err != nil {
		return spmerrors.NewInstallationError(phaseInstallMonit, err)
	}
	return nil
}
