package orchestrator

import (
	"archive/tar"
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/sonic-net/sonic-package-manager/internal/config"
	"github.com/sonic-net/sonic-package-manager/internal/configdb"
	"github.com/sonic-net/sonic-package-manager/internal/container"
	"github.com/sonic-net/sonic-package-manager/internal/feature"
	"github.com/sonic-net/sonic-package-manager/internal/hostinfo"
	"github.com/sonic-net/sonic-package-manager/internal/initcfg"
	"github.com/sonic-net/sonic-package-manager/internal/lock"
	"github.com/sonic-net/sonic-package-manager/internal/metadata"
	"github.com/sonic-net/sonic-package-manager/internal/monit"
	"github.com/sonic-net/sonic-package-manager/internal/repository"
	"github.com/sonic-net/sonic-package-manager/internal/spmerrors"
	"github.com/sonic-net/sonic-package-manager/internal/systemd"
	"github.com/sonic-net/sonic-package-manager/internal/version"
)

func testLogger() logging.Logger {
	return logging.NewLogrLogger(funcr.New(func(prefix, args string) {}, funcr.Options{}))
}

func buildManifestTar(t *testing.T, manifestJSON string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	if err := w.WriteHeader(&tar.Header{Name: "sonic-package/manifest.json", Mode: 0o644, Size: int64(len(manifestJSON))}); err != nil {
		t.Fatalf("WriteHeader(...): %v", err)
	}
	if _, err := w.Write([]byte(manifestJSON)); err != nil {
		t.Fatalf("Write(...): %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
	return buf.Bytes()
}

type harness struct {
	o       *Orchestrator
	fsys    afero.Fs
	paths   config.Paths
	index   *repository.Index
	engine  *container.Fake
	hostDB  *configdb.Memory
	asicDBs map[string]*configdb.Memory
}

// newHarness wires an Orchestrator against in-memory fakes. Passing asic
// partition names puts the orchestrator in multi-ASIC mode with one extra
// config partition per name.
func newHarness(t *testing.T, asicNames ...string) harness {
	t.Helper()
	fsys := afero.NewMemMapFs()
	paths := config.Paths{
		Root:               "/var/lib/sonic-package-manager",
		UnitDir:            "/usr/lib/systemd/system",
		MgmtScriptDir:      "/usr/local/bin",
		ContainerScriptDir: "/usr/bin",
		MonitDir:           "/etc/monit/conf.d",
		SonicDir:           "/etc/sonic",
	}

	idx, err := repository.Open(fsys, paths.IndexFile())
	if err != nil {
		t.Fatalf("Open(...): %v", err)
	}
	engine := container.NewFake()
	extractor := metadata.New(fsys, engine, paths.MetadataRoot(), testLogger())

	sys, err := systemd.New(fsys, paths, &systemd.FakeSupervisor{})
	if err != nil {
		t.Fatalf("systemd.New(...): %v", err)
	}
	mon, err := monit.New(fsys, paths.MonitDir, &monit.FakeReloader{})
	if err != nil {
		t.Fatalf("monit.New(...): %v", err)
	}
	hostDB := configdb.NewMemory()
	registry := feature.New(hostDB)

	partitions := []initcfg.Partition{{Name: initcfg.HostPartition, Handle: hostDB}}
	asicDBs := map[string]*configdb.Memory{}
	for _, name := range asicNames {
		db := configdb.NewMemory()
		asicDBs[name] = db
		partitions = append(partitions, initcfg.Partition{Name: name, Handle: db})
	}

	host := hostinfo.Fixed{PlatformValue: "x86_64-dummy", Version: version.MustParse("4.1.0")}
	lockFile := lock.New(filepath.Join(t.TempDir(), ".lock"))

	o := New(Config{
		Fsys:          fsys,
		Paths:         paths,
		Index:         idx,
		Engine:        engine,
		Extractor:     extractor,
		Systemd:       sys,
		Monit:         mon,
		Registry:      registry,
		Partitions:    partitions,
		MultiAsicMode: len(asicNames) > 0,
		Host:          host,
		Lock:          lockFile,
		Log:           testLogger(),
	})
	return harness{o: o, fsys: fsys, paths: paths, index: idx, engine: engine, hostDB: hostDB, asicDBs: asicDBs}
}

func TestInstallEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.index.Add("bar", "docker-bar", "bar package", version.MustParse("1.0.0")); err != nil {
		t.Fatalf("Add(...): %v", err)
	}
	manifestJSON := `{"package":{"sonic-version":">=1.0.0"},"service":{"name":"bar","host-service":true}}`
	h.engine.FileContents["docker-bar:latest"] = map[string][]byte{metadata.SourcePath: buildManifestTar(t, manifestJSON)}

	if err := h.o.Install(ctx, "bar", version.Version{}, false); err != nil {
		t.Fatalf("Install(...): unexpected error: %v", err)
	}

	entry, ok := h.index.Get("bar")
	if !ok || !entry.Installed() {
		t.Fatalf("entry = %+v, ok=%v; want installed", entry, ok)
	}
	if entry.Version.String() != "1.0.0" {
		t.Errorf("entry.Version = %s, want 1.0.0", entry.Version.String())
	}

	row, ok, err := h.hostDB.GetFeature(ctx, "bar")
	if err != nil || !ok {
		t.Fatalf("GetFeature(bar) = %v, %v, %v", row, ok, err)
	}
	if row["has_global_scope"] != "true" {
		t.Errorf("FEATURE|bar.has_global_scope = %q, want true", row["has_global_scope"])
	}
}

func TestInstallCompensatesOnDependencyFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.index.Add("bar", "docker-bar", "bar package", version.MustParse("1.0.0")); err != nil {
		t.Fatalf("Add(...): %v", err)
	}
	manifestJSON := `{"package":{"sonic-version":">=1.0.0","depends":["baz >=2.0.0"]},"service":{"name":"bar","host-service":true}}`
	h.engine.FileContents["docker-bar:latest"] = map[string][]byte{metadata.SourcePath: buildManifestTar(t, manifestJSON)}

	err := h.o.Install(ctx, "bar", version.Version{}, false)
	if !spmerrors.IsDependencyError(err) {
		t.Fatalf("Install(...) = %v, want DependencyError", err)
	}

	entry, ok := h.index.Get("bar")
	if !ok || entry.Installed() {
		t.Fatalf("entry = %+v; want not-installed after compensation", entry)
	}
	if _, ok := h.engine.Images["docker-bar:1.0.0"]; ok {
		t.Errorf("image docker-bar:1.0.0 should have been removed during compensation")
	}
	exists, _ := afero.DirExists(h.fsys, h.o.extractor.Dir("bar"))
	if exists {
		t.Errorf("metadata folder should have been removed during compensation")
	}
}

func TestInstallRejectsAlreadyInstalled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.index.Add("bar", "docker-bar", "", version.MustParse("1.0.0")); err != nil {
		t.Fatalf("Add(...): %v", err)
	}
	installed, _ := h.index.Get("bar")
	installed.Status = repository.StatusInstalled
	installed.Version = version.MustParse("1.0.0")
	if err := h.index.Update(installed); err != nil {
		t.Fatalf("Update(...): %v", err)
	}

	err := h.o.Install(ctx, "bar", version.Version{}, false)
	if err == nil {
		t.Fatal("Install(...): expected error for already-installed package")
	}
}

func TestInstallForceSuppressesOSVersionError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.index.Add("bar", "docker-bar", "", version.MustParse("1.0.0")); err != nil {
		t.Fatalf("Add(...): %v", err)
	}
	manifestJSON := `{"package":{"sonic-version":">=99.0.0"},"service":{"name":"bar","host-service":true}}`
	h.engine.FileContents["docker-bar:latest"] = map[string][]byte{metadata.SourcePath: buildManifestTar(t, manifestJSON)}

	if err := h.o.Install(ctx, "bar", version.Version{}, true); err != nil {
		t.Fatalf("Install(..., force=true): unexpected error: %v", err)
	}
	entry, _ := h.index.Get("bar")
	if !entry.Installed() {
		t.Fatalf("entry should be installed once OSVersionError is forced past")
	}
}

func TestUninstallEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.index.Add("bar", "docker-bar", "", version.MustParse("1.0.0")); err != nil {
		t.Fatalf("Add(...): %v", err)
	}
	manifestJSON := `{"package":{"sonic-version":">=1.0.0"},"service":{"name":"bar","host-service":true}}`
	h.engine.FileContents["docker-bar:latest"] = map[string][]byte{metadata.SourcePath: buildManifestTar(t, manifestJSON)}
	if err := h.o.Install(ctx, "bar", version.Version{}, false); err != nil {
		t.Fatalf("Install(...): %v", err)
	}

	if err := h.o.Uninstall(ctx, "bar", false); err != nil {
		t.Fatalf("Uninstall(...): unexpected error: %v", err)
	}

	entry, ok := h.index.Get("bar")
	if !ok || entry.Installed() {
		t.Fatalf("entry = %+v; want not-installed", entry)
	}
	if _, ok, _ := h.hostDB.GetFeature(ctx, "bar"); ok {
		t.Errorf("FEATURE row for bar should have been deregistered")
	}
	exists, _ := afero.DirExists(h.fsys, h.o.extractor.Dir("bar"))
	if exists {
		t.Errorf("metadata folder should have been removed on uninstall")
	}
}

func TestUninstallRejectsEssential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.index.Add("bar", "docker-bar", "", version.MustParse("1.0.0")); err != nil {
		t.Fatalf("Add(...): %v", err)
	}
	entry, _ := h.index.Get("bar")
	entry.Status = repository.StatusInstalled
	entry.Version = version.MustParse("1.0.0")
	entry.Essential = true
	if err := h.index.Update(entry); err != nil {
		t.Fatalf("Update(...): %v", err)
	}

	if err := h.o.Uninstall(ctx, "bar", false); err == nil {
		t.Fatal("Uninstall(...): expected error for essential entry")
	}
}

func TestInstallAsicServiceMergesAsicPartitions(t *testing.T) {
	h := newHarness(t, "asic0", "asic1")
	ctx := context.Background()

	if err := h.index.Add("bar", "docker-bar", "", version.MustParse("1.0.0")); err != nil {
		t.Fatalf("Add(...): %v", err)
	}
	manifestJSON := `{
		"package": {
			"sonic-version": ">=1.0.0",
			"initial-config": {"PORT": {"Ethernet0": {"admin_status": "up"}}}
		},
		"service": {"name": "bar", "asic-service": true, "host-service": false}
	}`
	h.engine.FileContents["docker-bar:latest"] = map[string][]byte{metadata.SourcePath: buildManifestTar(t, manifestJSON)}

	if err := h.o.Install(ctx, "bar", version.Version{}, false); err != nil {
		t.Fatalf("Install(...): unexpected error: %v", err)
	}

	if exists, _ := afero.Exists(h.fsys, h.paths.UnitDir+"/bar@.service"); !exists {
		t.Errorf("expected bar@.service for an asic-service package")
	}
	for name, db := range h.asicDBs {
		if got := db.Table("PORT")["Ethernet0"]["admin_status"]; got != "up" {
			t.Errorf("%s: PORT|Ethernet0.admin_status = %q, want up", name, got)
		}
	}
	if len(h.hostDB.Table("PORT")) != 0 {
		t.Errorf("host partition should not receive asic-service initial config, got %v", h.hostDB.Table("PORT"))
	}
}

func TestInstallThenUninstallRestoresHostState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.index.Add("bar", "docker-bar", "", version.MustParse("1.0.0")); err != nil {
		t.Fatalf("Add(...): %v", err)
	}
	manifestJSON := `{
		"package": {"sonic-version": ">=1.0.0"},
		"service": {"name": "bar", "host-service": true},
		"processes": [{"name": "bard", "command": "bard"}]
	}`
	h.engine.FileContents["docker-bar:latest"] = map[string][]byte{metadata.SourcePath: buildManifestTar(t, manifestJSON)}

	if err := h.o.Install(ctx, "bar", version.Version{}, false); err != nil {
		t.Fatalf("Install(...): %v", err)
	}
	if err := h.o.Uninstall(ctx, "bar", false); err != nil {
		t.Fatalf("Uninstall(...): %v", err)
	}

	for _, path := range []string{
		h.paths.UnitDir + "/bar.service",
		h.paths.MgmtScriptDir + "/bar.sh",
		h.paths.ContainerScriptDir + "/bar.sh",
		h.paths.MonitDir + "/monit_bar",
	} {
		if exists, _ := afero.Exists(h.fsys, path); exists {
			t.Errorf("%s should have been removed on uninstall", path)
		}
	}
	if _, ok := h.engine.Images["docker-bar:1.0.0"]; ok {
		t.Errorf("image docker-bar:1.0.0 should have been removed on uninstall")
	}
	if _, ok := h.engine.Images["docker-bar:latest"]; ok {
		t.Errorf("image docker-bar:latest should have been removed on uninstall")
	}
}
