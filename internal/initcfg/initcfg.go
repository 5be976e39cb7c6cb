// Package initcfg implements the Initial Config Loader (spec.md §4.9): it
// merges a package manifest's `initial-config` block into the appropriate
// host/per-ASIC configuration-store partitions.
package initcfg

import (
	"context"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/sonic-net/sonic-package-manager/internal/configdb"
)

const (
	// HostPartition is the distinguished partition identifier for the host
	// (non-ASIC) configuration store, per spec.md's Glossary.
	HostPartition = "host"

	errMergeTable = "failed to merge initial config table %q key %q into partition %q"
	errPersist    = "failed to persist partition %q after loading initial config"
)

// Partition pairs a configdb.Handle with the partition identifier it is
// bound to ("host", or a per-ASIC namespace).
type Partition struct {
	Name   string
	Handle configdb.Handle
}

// InitialConfig is the manifest's `package.initial-config` block: table
// name -> key -> fields.
type InitialConfig map[string]map[string]map[string]string

// Load merges initialConfig into the partitions selected by multiAsicMode
// and asicService, per spec.md §4.9's four-way selection rule, then
// persists every partition to disk. A nil/empty initialConfig is a no-op.
//
// Selection rule, evaluated per partition:
//   - multi-partition mode AND asicService AND partition != host: merge.
//   - (not multi-partition mode OR package is host-service) AND partition == host: merge.
func Load(ctx context.Context, partitions []Partition, initialConfig InitialConfig, multiAsicMode, asicService, hostService bool) error {
	if len(initialConfig) == 0 {
		return nil
	}

	for _, p := range partitions {
		if shouldMerge(p.Name, multiAsicMode, asicService, hostService) {
			if err := mergeInto(ctx, p, initialConfig); err != nil {
				return err
			}
		}
	}

	// spec.md §9 notes this persists every partition even if only one
	// changed; not diffing which partitions were actually touched is a
	// deliberate, documented simplification.
	for _, p := range partitions {
		if err := p.Handle.Save(ctx); err != nil {
			return errors.Wrapf(err, errPersist, p.Name)
		}
	}
	return nil
}

func shouldMerge(partition string, multiAsicMode, asicService, hostService bool) bool {
	if multiAsicMode && asicService && partition != HostPartition {
		return true
	}
	if (!multiAsicMode || hostService) && partition == HostPartition {
		return true
	}
	return false
}

func mergeInto(ctx context.Context, p Partition, initialConfig InitialConfig) error {
	for table, rows := range initialConfig {
		for key, fields := range rows {
			if err := p.Handle.MergeTable(ctx, table, key, fields); err != nil {
				return errors.Wrapf(err, errMergeTable, table, key, p.Name)
			}
		}
	}
	return nil
}
