// Package feature implements the Feature Registry (spec.md §4.6): it merges
// a package's default, running, and fixed service fields into the config
// store's FEATURE table.
package feature

import (
	"context"

	"dario.cat/mergo"
	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/sonic-net/sonic-package-manager/internal/configdb"
)

const (
	errReadCurrent = "failed to read current FEATURE row for %q"
	errMergeFields = "failed to merge FEATURE fields for %q"
	errWriteRow    = "failed to write FEATURE row for %q"
	errDeleteRow   = "failed to delete FEATURE row for %q"
	errPersist     = "failed to persist running config after registering %q"
)

// Entry is the subset of a package's service manifest fields the registry
// needs to compose a FEATURE row.
type Entry struct {
	Name        string
	AsicService bool
	HostService bool
	HasTimer    bool
}

// Registry merges a package's feature row into the config store.
type Registry struct {
	db configdb.Handle
}

// New returns a Registry backed by db.
func New(db configdb.Handle) *Registry {
	return &Registry{db: db}
}

// configurable returns the registry's own defaults for fields an operator
// may later change at runtime; these are the lowest-precedence layer.
func configurable() map[string]string {
	return map[string]string{
		"state":          "disabled",
		"auto_restart":   "enabled",
		"high_mem_alert": "disabled",
	}
}

// fixed returns the fields that are computed from the manifest and always
// win over whatever is currently in the store.
func fixed(entry Entry) map[string]string {
	return map[string]string{
		"has_per_asic_scope": boolString(entry.AsicService),
		"has_global_scope":   boolString(entry.HostService),
		"has_timer":          boolString(entry.HasTimer),
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Register composes final = configurable ⊕ current ⊕ fixed (later layers
// win on conflicting keys) and writes it back, then persists the running
// config to disk.
func (r *Registry) Register(ctx context.Context, entry Entry) error {
	current, _, err := r.db.GetFeature(ctx, entry.Name)
	if err != nil {
		return errors.Wrapf(err, errReadCurrent, entry.Name)
	}

	final := configurable()
	if err := mergo.Merge(&final, current, mergo.WithOverride); err != nil {
		return errors.Wrapf(err, errMergeFields, entry.Name)
	}
	if err := mergo.Merge(&final, fixed(entry), mergo.WithOverride); err != nil {
		return errors.Wrapf(err, errMergeFields, entry.Name)
	}

	if err := r.db.SetFeature(ctx, entry.Name, final); err != nil {
		return errors.Wrapf(err, errWriteRow, entry.Name)
	}
	if err := r.db.Save(ctx); err != nil {
		return errors.Wrapf(err, errPersist, entry.Name)
	}
	return nil
}

// Deregister unconditionally deletes the row and persists the running
// config to disk; it does not look at the row's state field, so an enabled
// feature is removed too. It does not stop or disable the feature's
// systemd unit, and the orchestrator's uninstall calls it before the unit
// files are removed.
func (r *Registry) Deregister(ctx context.Context, name string) error {
	if err := r.db.DeleteFeature(ctx, name); err != nil {
		return errors.Wrapf(err, errDeleteRow, name)
	}
	if err := r.db.Save(ctx); err != nil {
		return errors.Wrapf(err, errPersist, name)
	}
	return nil
}

// IsEnabled reports whether the row's state field is "enabled". A missing
// row is reported as not enabled.
func (r *Registry) IsEnabled(ctx context.Context, name string) (bool, error) {
	row, ok, err := r.db.GetFeature(ctx, name)
	if err != nil {
		return false, errors.Wrapf(err, errReadCurrent, name)
	}
	if !ok {
		return false, nil
	}
	return row["state"] == "enabled", nil
}
