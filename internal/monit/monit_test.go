package monit

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	"github.com/sonic-net/sonic-package-manager/internal/manifest"
)

func TestInstallWithoutProcessesSkipsFileAndReload(t *testing.T) {
	fsys := afero.NewMemMapFs()
	reloader := &FakeReloader{}
	in, err := New(fsys, "/etc/monit/conf.d", reloader)
	if err != nil {
		t.Fatalf("New(...): %v", err)
	}

	if err := in.Install(context.Background(), "foo", nil); err != nil {
		t.Fatalf("Install(...): unexpected error: %v", err)
	}
	if exists, _ := afero.Exists(fsys, "/etc/monit/conf.d/monit_foo"); exists {
		t.Error("expected no monit fragment when no processes declared")
	}
	if reloader.Reloads != 0 {
		t.Errorf("Reloads = %d, want 0", reloader.Reloads)
	}
}

func TestInstallWithProcessesWritesFragmentAndReloads(t *testing.T) {
	fsys := afero.NewMemMapFs()
	reloader := &FakeReloader{}
	in, err := New(fsys, "/etc/monit/conf.d", reloader)
	if err != nil {
		t.Fatalf("New(...): %v", err)
	}

	procs := []manifest.Process{{Name: "food", Command: "food"}}
	if err := in.Install(context.Background(), "foo", procs); err != nil {
		t.Fatalf("Install(...): unexpected error: %v", err)
	}
	if exists, _ := afero.Exists(fsys, "/etc/monit/conf.d/monit_foo"); !exists {
		t.Fatal("expected monit fragment to exist")
	}
	if reloader.Reloads != 1 {
		t.Errorf("Reloads = %d, want 1", reloader.Reloads)
	}
}

func TestUninstallIsIdempotent(t *testing.T) {
	fsys := afero.NewMemMapFs()
	reloader := &FakeReloader{}
	in, err := New(fsys, "/etc/monit/conf.d", reloader)
	if err != nil {
		t.Fatalf("New(...): %v", err)
	}

	if err := in.Uninstall(context.Background(), "foo"); err != nil {
		t.Fatalf("Uninstall on never-installed fragment: unexpected error: %v", err)
	}
	if reloader.Reloads != 1 {
		t.Errorf("Reloads = %d, want 1 (uninstall reloads even with no fragment)", reloader.Reloads)
	}

	if err := in.Install(context.Background(), "foo", []manifest.Process{{Name: "foo", Command: "foo"}}); err != nil {
		t.Fatalf("Install(...): %v", err)
	}
	if err := in.Uninstall(context.Background(), "foo"); err != nil {
		t.Fatalf("Uninstall(...): unexpected error: %v", err)
	}
	if exists, _ := afero.Exists(fsys, "/etc/monit/conf.d/monit_foo"); exists {
		t.Error("expected fragment to be removed")
	}
	if reloader.Reloads != 3 {
		t.Errorf("Reloads = %d, want 3 (one per Uninstall/Install/Uninstall call)", reloader.Reloads)
	}
}
