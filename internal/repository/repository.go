// Package repository implements the persistent repository index (spec.md
// §4.3): a single YAML document mapping repository name to RepositoryEntry,
// written through atomically on every mutation.
package repository

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/sonic-net/sonic-package-manager/internal/spmerrors"
	"github.com/sonic-net/sonic-package-manager/internal/version"
)

const (
	errReadIndex  = "failed to read repository index %s"
	errParseIndex = "failed to parse repository index %s"
	errWriteIndex = "failed to write repository index %s"
	errRenameTemp = "failed to rename temporary index file into place"

	// StatusInstalled is the status of a repository with a version present.
	StatusInstalled Status = "installed"
	// StatusNotInstalled is the status of a repository with no version set.
	StatusNotInstalled Status = "not-installed"
)

// Status is a RepositoryEntry's install state.
type Status string

// Entry is one RepositoryEntry, the element of the persistent index.
// Name is not part of the serialized value: it is the map key under which
// the Entry is stored in the index document.
type Entry struct {
	Name           string          `yaml:"-"`
	Repository     string          `yaml:"repository"`
	Description    string          `yaml:"description,omitempty"`
	DefaultVersion version.Version `yaml:"default-version,omitempty"`
	Essential      bool            `yaml:"essential"`
	Status         Status          `yaml:"status"`
	Version        version.Version `yaml:"version,omitempty"`
}

// Installed reports whether the entry is currently installed.
func (e Entry) Installed() bool { return e.Status == StatusInstalled }

// Index is the repository index file: a mapping of name to Entry, loaded
// eagerly and written through atomically on every mutation.
type Index struct {
	fsys afero.Fs
	path string

	mu      sync.RWMutex
	entries map[string]Entry
}

// Open loads the index document at path. A missing file is treated as an
// empty, freshly initialized index rather than an error, so a brand new
// installation root can be opened without a separate bootstrap step.
func Open(fsys afero.Fs, path string) (*Index, error) {
	idx := &Index{fsys: fsys, path: path, entries: map[string]Entry{}}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return idx, nil
		}
		return nil, errors.Wrapf(err, errReadIndex, path)
	}

	var raw map[string]Entry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, spmerrors.NewCorrupt(path, errors.Wrapf(err, errParseIndex, path))
	}
	for name, entry := range raw {
		entry.Name = name
		idx.entries[name] = entry
	}
	return idx, nil
}

// Add inserts a new entry. It returns an AlreadyExistsError if name is
// already present.
func (idx *Index) Add(name, repo, description string, defaultVersion version.Version) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.entries[name]; ok {
		return spmerrors.NewAlreadyExists(name)
	}
	idx.entries[name] = Entry{
		Name:           name,
		Repository:     repo,
		Description:    description,
		DefaultVersion: defaultVersion,
		Status:         StatusNotInstalled,
	}
	return idx.writeLocked()
}

// Remove deletes name from the index. It returns NotFoundError if absent,
// or StillInstalledError if the entry is currently installed. Essential
// entries are never removed.
func (idx *Index) Remove(name string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, ok := idx.entries[name]
	if !ok {
		return spmerrors.NewNotFound(name)
	}
	if entry.Installed() {
		return spmerrors.NewStillInstalled(name)
	}
	if entry.Essential {
		return errors.Errorf("%s is essential and cannot be removed", name)
	}
	delete(idx.entries, name)
	return idx.writeLocked()
}

// Update replaces the stored entry for entry.Name. It returns NotFoundError
// if no entry with that name exists.
func (idx *Index) Update(entry Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.entries[entry.Name]; !ok {
		return spmerrors.NewNotFound(entry.Name)
	}
	idx.entries[entry.Name] = entry
	return idx.writeLocked()
}

// Get returns the entry for name and whether it was found.
func (idx *Index) Get(name string) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entry, ok := idx.entries[name]
	return entry, ok
}

// Has reports whether name is present in the index.
func (idx *Index) Has(name string) bool {
	_, ok := idx.Get(name)
	return ok
}

// List returns every entry, sorted in natural name order (so "asic10"
// follows "asic9", per spec.md §9).
func (idx *Index) List() []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return naturalLess(out[i].Name, out[j].Name) })
	return out
}

// naturalLess compares a and b so that embedded numeric runs sort by value
// rather than lexicographically (e.g. "asic9" < "asic10"), falling back to a
// byte-wise comparison once one side runs out of characters.
func naturalLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			ia, na := i, 0
			for ia < len(a) && isDigit(a[ia]) {
				na++
				ia++
			}
			jb, nb := j, 0
			for jb < len(b) && isDigit(b[jb]) {
				nb++
				jb++
			}
			numA := strings.TrimLeft(a[i:ia], "0")
			numB := strings.TrimLeft(b[j:jb], "0")
			if len(numA) != len(numB) {
				return len(numA) < len(numB)
			}
			if numA != numB {
				return numA < numB
			}
			i, j = ia, jb
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	return len(a)-i < len(b)-j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// IsPackageInstalled reports whether any installed entry's manifest service
// name equals featureName. The caller supplies the association between
// entry name and its manifest's service name (resolved by the orchestrator,
// which has the manifest loader available), since the index alone does not
// carry service names.
func (idx *Index) IsPackageInstalled(featureName string, serviceNameOf func(Entry) string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, e := range idx.entries {
		if e.Installed() && serviceNameOf(e) == featureName {
			return true
		}
	}
	return false
}

// writeLocked serializes the index and writes it through atomically: write
// to a temp file in the same directory, then rename over the target path.
// Caller must hold idx.mu.
func (idx *Index) writeLocked() error {
	out := make(map[string]Entry, len(idx.entries))
	for name, e := range idx.entries {
		out[name] = e
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return errors.Wrapf(err, errWriteIndex, idx.path)
	}

	dir := filepath.Dir(idx.path)
	if err := idx.fsys.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, errWriteIndex, idx.path)
	}

	tmp, err := afero.TempFile(idx.fsys, dir, ".packages.yml.tmp-*")
	if err != nil {
		return errors.Wrapf(err, errWriteIndex, idx.path)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		idx.fsys.Remove(tmpName)
		return errors.Wrapf(err, errWriteIndex, idx.path)
	}
	if err := tmp.Close(); err != nil {
		idx.fsys.Remove(tmpName)
		return errors.Wrapf(err, errWriteIndex, idx.path)
	}

	if err := idx.fsys.Rename(tmpName, idx.path); err != nil {
		idx.fsys.Remove(tmpName)
		return errors.Wrap(err, errRenameTemp)
	}
	return nil
}
