// Package metadata implements the Metadata Extractor (spec.md §4.5): it
// copies a package's /var/lib/sonic-package contents out of a short-lived
// helper container and onto the host's per-package metadata folder.
package metadata

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/spf13/afero"

	"github.com/sonic-net/sonic-package-manager/internal/container"
	"github.com/sonic-net/sonic-package-manager/internal/spmerrors"
)

const (
	// SourcePath is the well-known in-image path copied onto the host.
	SourcePath = "/var/lib/sonic-package"

	phaseExtractMeta = "EXTRACT_META"

	errRemoveFolder  = "failed to remove existing metadata folder for %q"
	errCreateFolder  = "failed to create metadata folder for %q"
	errRunHelper     = "failed to start helper container for %q"
	errCopyFromImage = "failed to copy %s from helper container"
	errExtractTar    = "failed to extract metadata tar stream for %q"
)

// keepAliveEntrypoint keeps the helper container alive long enough to copy
// its filesystem out; it is never executed as a real service.
var keepAliveEntrypoint = []string{"sleep", "infinity"}

// Extractor copies a package's metadata folder out of its image.
type Extractor struct {
	fsys   afero.Fs
	engine container.Engine
	root   string
	log    logging.Logger
}

// New returns an Extractor that stores metadata folders under root (e.g.
// /var/lib/sonic-package-manager).
func New(fsys afero.Fs, engine container.Engine, root string, log logging.Logger) *Extractor {
	return &Extractor{fsys: fsys, engine: engine, root: root, log: log}
}

// Dir returns the host metadata folder path for name.
func (e *Extractor) Dir(name string) string {
	return filepath.Join(e.root, name)
}

// Extract runs the five-step install sequence: remove any existing folder,
// recreate it, run a keep-alive container from repo:latest, copy
// SourcePath out as a tar stream, and extract it onto the host folder with
// the top-level directory stripped. Any failure removes the host folder
// and returns a wrapped InstallationError.
func (e *Extractor) Extract(ctx context.Context, name, repo string) error {
	dir := e.Dir(name)

	if err := e.removeDir(dir); err != nil {
		return spmerrors.NewInstallationError(phaseExtractMeta, errors.Wrapf(err, errRemoveFolder, name))
	}
	if err := e.fsys.MkdirAll(dir, 0o755); err != nil {
		return e.failAndCleanup(dir, errors.Wrapf(err, errCreateFolder, name))
	}

	c, err := e.engine.RunDetached(ctx, repo+":latest", keepAliveEntrypoint)
	if err != nil {
		return e.failAndCleanup(dir, errors.Wrapf(err, errRunHelper, name))
	}
	defer func() {
		if rmErr := c.Remove(ctx, true); rmErr != nil {
			e.log.Info("failed to remove helper container", "container", c.ID(), "error", rmErr)
		}
	}()

	rc, err := c.CopyFrom(ctx, SourcePath)
	if err != nil {
		return e.failAndCleanup(dir, errors.Wrapf(err, errCopyFromImage, SourcePath))
	}
	defer rc.Close() //nolint:errcheck

	if err := extractStrippingTopLevel(e.fsys, dir, rc); err != nil {
		return e.failAndCleanup(dir, errors.Wrapf(err, errExtractTar, name))
	}

	return nil
}

// Remove deletes the host metadata folder for name. It is the entire
// uninstall-time operation (spec.md §4.5, "On uninstall, only step 1
// runs.") and is idempotent.
func (e *Extractor) Remove(name string) error {
	return e.removeDir(e.Dir(name))
}

func (e *Extractor) removeDir(dir string) error {
	if err := e.fsys.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (e *Extractor) failAndCleanup(dir string, cause error) error {
	if err := e.removeDir(dir); err != nil {
		e.log.Info("failed to clean up metadata folder after extraction failure", "dir", dir, "error", err)
	}
	return spmerrors.NewInstallationError(phaseExtractMeta, cause)
}

// extractStrippingTopLevel writes every entry of the tar stream read from r
// into dir, dropping the leading path component of every entry name (the
// well-known source folder itself is not copied, only its contents).
func extractStrippingTopLevel(fsys afero.Fs, dir string, r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		rel := stripTopLevel(hdr.Name)
		if rel == "" {
			continue
		}
		target := filepath.Join(dir, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fsys.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := fsys.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		default:
			// Symlinks and other special entries are not part of the
			// package metadata contract; skip them.
		}
	}
}

func stripTopLevel(name string) string {
	name = strings.TrimPrefix(name, "./")
	parts := strings.SplitN(name, "/", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
