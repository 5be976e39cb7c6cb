// Package orchestrator implements the Install/Uninstall Orchestrator
// (spec.md §4.11): the state machines that sequence every other component
// into a single all-or-nothing transaction, with compensating rollback on
// any install failure, guarded by the process-wide advisory lock (§5).
package orchestrator

import (
	"context"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/spf13/afero"

	"github.com/sonic-net/sonic-package-manager/internal/config"
	"github.com/sonic-net/sonic-package-manager/internal/container"
	"github.com/sonic-net/sonic-package-manager/internal/dependency"
	"github.com/sonic-net/sonic-package-manager/internal/feature"
	"github.com/sonic-net/sonic-package-manager/internal/hostinfo"
	"github.com/sonic-net/sonic-package-manager/internal/initcfg"
	"github.com/sonic-net/sonic-package-manager/internal/lock"
	"github.com/sonic-net/sonic-package-manager/internal/manifest"
	"github.com/sonic-net/sonic-package-manager/internal/metadata"
	"github.com/sonic-net/sonic-package-manager/internal/monit"
	"github.com/sonic-net/sonic-package-manager/internal/repository"
	"github.com/sonic-net/sonic-package-manager/internal/spmerrors"
	"github.com/sonic-net/sonic-package-manager/internal/systemd"
	"github.com/sonic-net/sonic-package-manager/internal/version"
)

// Phase names, used as the InstallationError.Phase value and to label log
// lines, exactly as spec.md §4.11 names the states of both state machines.
const (
	PhaseCheckNotInstalled = "CHECK_NOT_INSTALLED"
	PhasePull              = "PULL"
	PhaseExtractMeta       = "EXTRACT_META"
	PhaseCheckOSVersion    = "CHECK_OS_VERSION"
	PhaseCheckGraph        = "CHECK_GRAPH"
	PhaseInstallSystemd    = "INSTALL_SYSTEMD"
	PhaseInstallMonit      = "INSTALL_MONIT"
	PhaseRegisterFeature   = "REGISTER_FEATURE"
	PhasePersistIndex      = "PERSIST_INDEX"
	PhaseLoadInitialCfg    = "LOAD_INITIAL_CFG"

	PhaseCheckInstalled    = "CHECK_INSTALLED"
	PhaseDeregisterFeature = "DEREGISTER_FEATURE"
	PhaseRemoveMonit       = "REMOVE_MONIT"
	PhaseUninstallSystemd  = "UNINSTALL_SYSTEMD"
	PhaseRemoveMetadata    = "REMOVE_METADATA"
	PhaseRemoveImage       = "REMOVE_IMAGE"
)

const latestTag = "latest"

// Orchestrator composes every component into the transactional engine
// described by spec.md §4.11.
type Orchestrator struct {
	fsys      afero.Fs
	paths     config.Paths
	index     *repository.Index
	engine    container.Engine
	extractor *metadata.Extractor
	systemd   *systemd.Integrator
	monit     *monit.Integrator
	registry  *feature.Registry

	partitions    []initcfg.Partition
	multiAsicMode bool

	host hostinfo.Provider
	lock *lock.File
	log  logging.Logger
}

// Config bundles the dependencies New needs; it exists so that callers
// (the CLI, and tests) construct an Orchestrator from one literal rather
// than a long positional argument list.
type Config struct {
	Fsys          afero.Fs
	Paths         config.Paths
	Index         *repository.Index
	Engine        container.Engine
	Extractor     *metadata.Extractor
	Systemd       *systemd.Integrator
	Monit         *monit.Integrator
	Registry      *feature.Registry
	Partitions    []initcfg.Partition
	MultiAsicMode bool
	Host          hostinfo.Provider
	Lock          *lock.File
	Log           logging.Logger
}

// New returns an Orchestrator built from cfg.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		fsys:          cfg.Fsys,
		paths:         cfg.Paths,
		index:         cfg.Index,
		engine:        cfg.Engine,
		extractor:     cfg.Extractor,
		systemd:       cfg.Systemd,
		monit:         cfg.Monit,
		registry:      cfg.Registry,
		partitions:    cfg.Partitions,
		multiAsicMode: cfg.MultiAsicMode,
		host:          cfg.Host,
		lock:          cfg.Lock,
		log:           cfg.Log,
	}
}

func (o *Orchestrator) warn(err error) {
	o.log.Info("--force: suppressing check failure", "error", err)
}

// undoStack is the LIFO compensation stack described in spec.md §9: each
// successful "do" step pushes an undo closure; on failure the stack is
// popped and invoked in reverse, tolerant of "not present" and never
// masking the original error.
type undoStack struct {
	steps []func(context.Context) error
	log   logging.Logger
}

func (u *undoStack) push(step func(context.Context) error) { u.steps = append(u.steps, step) }

// compensate runs every pushed step in reverse and always returns cause
// unchanged, so callers can `return stack.compensate(ctx, err)`.
func (u *undoStack) compensate(ctx context.Context, cause error) error {
	for i := len(u.steps) - 1; i >= 0; i-- {
		if err := u.steps[i](ctx); err != nil && !spmerrors.IsNotFound(err) {
			u.log.Info("compensation step failed, continuing", "error", err)
		}
	}
	return cause
}

// Install runs the INIT -> ... -> DONE state machine of spec.md §4.11. A
// zero requestedVersion means "use the repository entry's default
// version"; VersionUnspecified is returned if neither is set.
func (o *Orchestrator) Install(ctx context.Context, name string, requestedVersion version.Version, force bool) error {
	if err := o.lock.Lock(ctx); err != nil {
		return err
	}
	defer o.lock.Unlock() //nolint:errcheck

	entry, ok := o.index.Get(name)
	if !ok {
		return spmerrors.NewNotFound(name)
	}
	if entry.Installed() {
		return spmerrors.NewInstallationError(PhaseCheckNotInstalled, errors.Errorf("%s is already installed", name))
	}

	ver := requestedVersion
	if ver.IsZero() {
		ver = entry.DefaultVersion
	}
	if ver.IsZero() {
		return spmerrors.NewVersionUnspecified(name)
	}

	stack := &undoStack{log: o.log}

	if err := o.engine.Pull(ctx, entry.Repository, ver.String()); err != nil {
		return spmerrors.NewInstallationError(PhasePull, err)
	}
	stack.push(func(ctx context.Context) error {
		return o.engine.RemoveImage(ctx, entry.Repository+":"+ver.String(), true)
	})

	if err := o.engine.Tag(ctx, entry.Repository+":"+ver.String(), entry.Repository, latestTag); err != nil {
		return stack.compensate(ctx, spmerrors.NewInstallationError(PhasePull, err))
	}
	stack.push(func(ctx context.Context) error {
		return o.engine.RemoveImage(ctx, entry.Repository+":"+latestTag, true)
	})

	if err := o.extractor.Extract(ctx, name, entry.Repository); err != nil {
		return stack.compensate(ctx, err)
	}
	stack.push(func(ctx context.Context) error { return o.extractor.Remove(name) })

	m, err := manifest.Load(o.fsys, o.extractor.Dir(name), name)
	if err != nil {
		return stack.compensate(ctx, spmerrors.NewInstallationError(PhaseExtractMeta, err))
	}

	baseVersion, err := o.host.BaseOSVersion()
	if err != nil {
		return stack.compensate(ctx, spmerrors.NewInstallationError(PhaseCheckOSVersion, err))
	}
	if !m.Package.SonicVersion.AllowsAll(baseVersion) {
		osErr := &spmerrors.OSVersionError{Package: name, Constraint: m.Package.SonicVersion.String(), Observed: baseVersion.String()}
		if err := dependency.WithForce(force, o.warn, osErr); err != nil {
			return stack.compensate(ctx, err)
		}
	}

	graph, err := o.buildGraph()
	if err != nil {
		return stack.compensate(ctx, err)
	}
	candidate := dependency.Row{Name: name, Version: ver, Dependencies: m.Package.Depends, Conflicts: m.Package.Breaks}
	if err := dependency.WithForce(force, o.warn, dependency.CheckInstall(graph, candidate)); err != nil {
		return stack.compensate(ctx, err)
	}

	isPackage := func(n string) bool {
		e, ok := o.index.Get(n)
		return ok && e.Installed()
	}
	if err := o.systemd.Install(ctx, m, o.host.Platform(), isPackage); err != nil {
		return stack.compensate(ctx, err)
	}
	stack.push(func(ctx context.Context) error { return o.systemd.Uninstall(ctx, m) })

	if err := o.monit.Install(ctx, m.Service.Name, m.Processes); err != nil {
		return stack.compensate(ctx, err)
	}
	stack.push(func(ctx context.Context) error { return o.monit.Uninstall(ctx, m.Service.Name) })

	fentry := feature.Entry{Name: m.Service.Name, AsicService: m.Service.AsicService, HostService: m.Service.HostService}
	if err := o.registry.Register(ctx, fentry); err != nil {
		return stack.compensate(ctx, spmerrors.NewInstallationError(PhaseRegisterFeature, err))
	}
	stack.push(func(ctx context.Context) error { return o.registry.Deregister(ctx, m.Service.Name) })

	installed := entry
	installed.Status = repository.StatusInstalled
	installed.Version = ver
	if err := o.index.Update(installed); err != nil {
		return stack.compensate(ctx, spmerrors.NewInstallationError(PhasePersistIndex, err))
	}
	stack.push(func(ctx context.Context) error {
		reverted := installed
		reverted.Status = repository.StatusNotInstalled
		reverted.Version = version.Version{}
		return o.index.Update(reverted)
	})

	if err := initcfg.Load(ctx, o.partitions, initcfg.InitialConfig(m.Package.InitialConfig), o.multiAsicMode, m.Service.AsicService, m.Service.HostService); err != nil {
		return stack.compensate(ctx, spmerrors.NewInstallationError(PhaseLoadInitialCfg, err))
	}

	return nil
}

// Uninstall runs the INIT -> ... -> DONE uninstall state machine of
// spec.md §4.11. There is no compensation: a failure partway through is
// propagated immediately and left for the operator to retry, optionally
// with force (spec.md §9).
func (o *Orchestrator) Uninstall(ctx context.Context, name string, force bool) error {
	if err := o.lock.Lock(ctx); err != nil {
		return err
	}
	defer o.lock.Unlock() //nolint:errcheck

	entry, ok := o.index.Get(name)
	if !ok {
		return spmerrors.NewNotFound(name)
	}
	if !entry.Installed() {
		return spmerrors.NewInstallationError(PhaseCheckInstalled, errors.Errorf("%s is not installed", name))
	}
	if entry.Essential {
		return spmerrors.NewInstallationError(PhaseCheckInstalled, errors.Errorf("%s is essential and cannot be uninstalled", name))
	}

	m, err := manifest.Load(o.fsys, o.extractor.Dir(name), name)
	if err != nil {
		return spmerrors.NewCorrupt(name, err)
	}

	graph, err := o.buildGraph()
	if err != nil {
		return err
	}
	if err := dependency.WithForce(force, o.warn, dependency.CheckUninstall(graph, name)); err != nil {
		return err
	}

	if err := o.registry.Deregister(ctx, m.Service.Name); err != nil {
		return spmerrors.NewInstallationError(PhaseDeregisterFeature, err)
	}
	if err := o.monit.Uninstall(ctx, m.Service.Name); err != nil {
		return err
	}
	if err := o.systemd.Uninstall(ctx, m); err != nil {
		return err
	}
	if err := o.extractor.Remove(name); err != nil {
		return spmerrors.NewInstallationError(PhaseRemoveMetadata, err)
	}
	if err := o.engine.RemoveImage(ctx, entry.Repository+":"+entry.Version.String(), force); err != nil {
		return spmerrors.NewInstallationError(PhaseRemoveImage, err)
	}
	_ = o.engine.RemoveImage(ctx, entry.Repository+":"+latestTag, true)

	uninstalled := entry
	uninstalled.Status = repository.StatusNotInstalled
	uninstalled.Version = version.Version{}
	if err := o.index.Update(uninstalled); err != nil {
		return spmerrors.NewInstallationError(PhasePersistIndex, err)
	}
	return nil
}

// buildGraph reads every installed entry's manifest and assembles the
// dependency.Graph the solver checks against. A missing manifest for an
// installed entry is a Corrupt error per spec.md §3 invariant 3.
func (o *Orchestrator) buildGraph() (dependency.Graph, error) {
	var rows []dependency.Row
	for _, e := range o.index.List() {
		if !e.Installed() {
			continue
		}
		m, err := manifest.Load(o.fsys, o.extractor.Dir(e.Name), e.Name)
		if err != nil {
			return nil, spmerrors.NewCorrupt(e.Name, err)
		}
		rows = append(rows, dependency.Row{
			Name:         e.Name,
			Version:      e.Version,
			Dependencies: m.Package.Depends,
			Conflicts:    m.Package.Breaks,
		})
	}
	return dependency.NewGraph(rows), nil
}

// IsPackageInstalled reports whether any installed entry's manifest service
// name equals featureName (spec.md §4.3's is_package_installed).
func (o *Orchestrator) IsPackageInstalled(featureName string) bool {
	return o.index.IsPackageInstalled(featureName, func(e repository.Entry) string {
		m, err := manifest.Load(o.fsys, o.extractor.Dir(e.Name), e.Name)
		if err != nil {
			return ""
		}
		return m.Service.Name
	})
}
