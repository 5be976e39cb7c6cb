package metadata

import (
	"archive/tar"
	"bytes"
	"context"
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/sonic-net/sonic-package-manager/internal/container"
)

func testLogger() logging.Logger {
	return logging.NewLogrLogger(funcr.New(func(prefix, args string) {}, funcr.Options{}))
}

func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	for name, content := range files {
		if err := w.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}); err != nil {
			t.Fatalf("WriteHeader(%q): %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("Write(%q): %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
	return buf.Bytes()
}

func TestExtractStripsTopLevelDirectory(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	engine := container.NewFake()

	tarball := buildTar(t, map[string]string{
		"sonic-package/manifest.json":  `{"service":{"name":"bar"}}`,
		"sonic-package/templates/a.j2": "template body",
	})

	engine.FileContents["docker-bar:latest"] = map[string][]byte{SourcePath: tarball}

	extractor := New(fsys, engine, "/var/lib/sonic-package-manager", testLogger())
	if err := extractor.Extract(ctx, "bar", "docker-bar"); err != nil {
		t.Fatalf("Extract(...): unexpected error: %v", err)
	}

	manifestBytes, err := afero.ReadFile(fsys, "/var/lib/sonic-package-manager/bar/manifest.json")
	if err != nil {
		t.Fatalf("ReadFile(manifest.json): %v", err)
	}
	if string(manifestBytes) != `{"service":{"name":"bar"}}` {
		t.Errorf("manifest.json content = %q", manifestBytes)
	}

	templateBytes, err := afero.ReadFile(fsys, "/var/lib/sonic-package-manager/bar/templates/a.j2")
	if err != nil {
		t.Fatalf("ReadFile(templates/a.j2): %v", err)
	}
	if string(templateBytes) != "template body" {
		t.Errorf("templates/a.j2 content = %q", templateBytes)
	}

	exists, _ := afero.DirExists(fsys, "/var/lib/sonic-package-manager/bar/sonic-package")
	if exists {
		t.Errorf("top-level sonic-package directory should have been stripped")
	}
}

func TestExtractCleansUpOnCopyFailure(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	engine := container.NewFake()
	// No FileContents registered: CopyFrom on the helper container will fail.

	extractor := New(fsys, engine, "/var/lib/sonic-package-manager", testLogger())
	err := extractor.Extract(ctx, "bar", "docker-bar")
	if err == nil {
		t.Fatalf("Extract(...): expected error, got none")
	}

	exists, _ := afero.DirExists(fsys, "/var/lib/sonic-package-manager/bar")
	if exists {
		t.Errorf("metadata folder should have been removed after a failed extraction")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	fsys := afero.NewMemMapFs()
	engine := container.NewFake()
	extractor := New(fsys, engine, "/var/lib/sonic-package-manager", testLogger())

	if err := extractor.Remove("bar"); err != nil {
		t.Fatalf("Remove(...) on absent folder: unexpected error: %v", err)
	}

	if err := afero.WriteFile(fsys, extractor.Dir("bar")+"/manifest.json", []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile(...): %v", err)
	}
	if err := extractor.Remove("bar"); err != nil {
		t.Fatalf("Remove(...): unexpected error: %v", err)
	}
	exists, _ := afero.DirExists(fsys, extractor.Dir("bar"))
	if exists {
		t.Errorf("Remove(...) did not delete the metadata folder")
	}
}
