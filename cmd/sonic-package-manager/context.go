package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/sonic-net/sonic-package-manager/internal/config"
	"github.com/sonic-net/sonic-package-manager/internal/configdb"
	"github.com/sonic-net/sonic-package-manager/internal/container"
	"github.com/sonic-net/sonic-package-manager/internal/feature"
	"github.com/sonic-net/sonic-package-manager/internal/hostinfo"
	"github.com/sonic-net/sonic-package-manager/internal/initcfg"
	"github.com/sonic-net/sonic-package-manager/internal/lock"
	"github.com/sonic-net/sonic-package-manager/internal/manifest"
	"github.com/sonic-net/sonic-package-manager/internal/metadata"
	"github.com/sonic-net/sonic-package-manager/internal/monit"
	"github.com/sonic-net/sonic-package-manager/internal/orchestrator"
	"github.com/sonic-net/sonic-package-manager/internal/repository"
	"github.com/sonic-net/sonic-package-manager/internal/spmerrors"
	"github.com/sonic-net/sonic-package-manager/internal/systemd"
)

const errNotRoot = "this command must be run as root"

// appContext bundles every component the subcommands share, built once in
// main and bound into kong so each command's Run method can take it as an
// argument (the pattern cmd/crank uses for logging.Logger).
type appContext struct {
	fsys  afero.Fs
	paths config.Paths
	log   logging.Logger

	index *repository.Index
	orch  *orchestrator.Orchestrator
	lock  *lock.File
}

// newAppContext wires every component described by SPEC_FULL.md §2/§4
// against the real filesystem, Docker daemon, and Redis-backed config
// store, using cfg's flags to pick partition addresses.
func newAppContext(cfg *cli, log logging.Logger) (*appContext, error) {
	fsys := afero.NewOsFs()
	paths := config.Default()
	if cfg.Root != "" {
		paths.Root = cfg.Root
	}

	idx, err := repository.Open(fsys, paths.IndexFile())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open repository index")
	}

	engine, err := container.New(log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct container engine")
	}
	extractor := metadata.New(fsys, engine, paths.MetadataRoot(), log)

	svcIntegrator, err := systemd.New(fsys, paths, systemd.Systemctl{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct service integrator")
	}
	monitIntegrator, err := monit.New(fsys, paths.MonitDir, monit.Monit{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct monitor integrator")
	}

	hostHandle := configdb.NewRedis(redisOptions(cfg.RedisAddr))
	registry := feature.New(hostHandle)

	partitions := []initcfg.Partition{{Name: initcfg.HostPartition, Handle: hostHandle}}
	for _, asic := range cfg.AsicRedisAddr {
		name, addr, ok := splitAsicFlag(asic)
		if !ok {
			return nil, errors.Errorf("invalid --asic-redis-addr %q, want NAME=ADDR", asic)
		}
		partitions = append(partitions, initcfg.Partition{Name: name, Handle: configdb.NewRedis(redisOptions(addr))})
	}

	host := hostinfo.New(fsys, cfg.Platform, cfg.VersionFile)
	fileLock := lock.New(paths.LockFile())

	orch := orchestrator.New(orchestrator.Config{
		Fsys:          fsys,
		Paths:         paths,
		Index:         idx,
		Engine:        engine,
		Extractor:     extractor,
		Systemd:       svcIntegrator,
		Monit:         monitIntegrator,
		Registry:      registry,
		Partitions:    partitions,
		MultiAsicMode: len(cfg.AsicRedisAddr) > 0,
		Host:          host,
		Lock:          fileLock,
		Log:           log,
	})

	return &appContext{fsys: fsys, paths: paths, log: log, index: idx, orch: orch, lock: fileLock}, nil
}

// withReadLock takes the process-wide advisory lock for the duration of fn,
// the short-lived exclusive acquisition spec.md §5 substitutes for a true
// shared lock (internal/lock has no non-blocking shared-lock primitive).
func (a *appContext) withReadLock(ctx context.Context, fn func() error) error {
	if err := a.lock.Lock(ctx); err != nil {
		return err
	}
	defer a.lock.Unlock() //nolint:errcheck
	return fn()
}

// manifestFor loads the manifest for an installed repository entry, for
// the "package show manifest/changelog" commands.
func (a *appContext) manifestFor(name string) (manifest.Manifest, error) {
	entry, ok := a.index.Get(name)
	if !ok {
		return manifest.Manifest{}, spmerrors.NewNotFound(name)
	}
	if !entry.Installed() {
		return manifest.Manifest{}, spmerrors.NewInstallationError("CHECK_INSTALLED", errors.Errorf("%s is not installed", name))
	}
	return manifest.Load(a.fsys, metadataDir(a.paths, name), name)
}

// metadataDir mirrors metadata.Extractor.Dir without requiring a live
// Extractor handle.
func metadataDir(paths config.Paths, name string) string {
	return filepath.Join(paths.MetadataRoot(), name)
}

// requireRoot enforces spec.md §6's "All mutating commands require root."
func requireRoot() error {
	if os.Geteuid() != 0 {
		return errors.New(errNotRoot)
	}
	return nil
}

// redisOptions builds client options for one partition's CONFIG_DB redis
// instance. addr may be a host:port TCP address or a unix socket path (the
// real deployment's sonic-db-cli convention).
func redisOptions(addr string) *redis.Options {
	if addr == "" {
		addr = "/var/run/redis/redis.sock"
	}
	network := "tcp"
	if len(addr) > 0 && addr[0] == '/' {
		network = "unix"
	}
	return &redis.Options{Network: network, Addr: addr}
}

func splitAsicFlag(s string) (name, addr string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
