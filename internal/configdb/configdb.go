// Package configdb provides the configuration-store client used by the
// Feature Registry and Initial Config Loader. spec.md leaves the concrete
// client as an external collaborator; this package supplies the default
// Redis-backed implementation (mirroring SONiC's real CONFIG_DB) and an
// in-memory fake for tests.
package configdb

import (
	"context"
	"sort"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const errSaveFailed = "failed to persist running config"

// Handle is a partition's config-store client: one Handle per host or
// per-ASIC partition. All methods operate on the FEATURE table except
// MergeTable, which is used by the Initial Config Loader against arbitrary
// tables.
type Handle interface {
	// GetFeature returns the row for name and whether it exists.
	GetFeature(ctx context.Context, name string) (map[string]string, bool, error)
	// SetFeature writes (replacing) the row for name.
	SetFeature(ctx context.Context, name string, fields map[string]string) error
	// DeleteFeature removes the row for name. Deleting an absent row is a
	// no-op, not an error.
	DeleteFeature(ctx context.Context, name string) error
	// MergeTable merges fields into table[key]: each supplied field
	// overwrites the stored value of the same name, and stored fields not
	// named in fields are kept.
	MergeTable(ctx context.Context, table, key string, fields map[string]string) error
	// Save persists the running configuration to disk.
	Save(ctx context.Context) error
}

const featureTable = "FEATURE"

// Redis is the default Handle, backed by a go-redis client talking to one
// partition's local redis instance over a unix socket or TCP address.
type Redis struct {
	client *redis.Client
}

// NewRedis constructs a Redis handle from already-built client options. The
// caller picks the network/address appropriate to the partition (host or a
// specific ASIC instance's CONFIG_DB socket).
func NewRedis(opts *redis.Options) *Redis {
	return &Redis{client: redis.NewClient(opts)}
}

func (r *Redis) hashKey(table, key string) string {
	return table + "|" + key
}

// GetFeature implements Handle.
func (r *Redis) GetFeature(ctx context.Context, name string) (map[string]string, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.hashKey(featureTable, name)).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to read %s row %q", featureTable, name)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	return fields, true, nil
}

// SetFeature implements Handle.
func (r *Redis) SetFeature(ctx context.Context, name string, fields map[string]string) error {
	key := r.hashKey(featureTable, name)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		pipe.HSet(ctx, key, toAnySlice(fields))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to write %s row %q", featureTable, name)
	}
	return nil
}

// DeleteFeature implements Handle.
func (r *Redis) DeleteFeature(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, r.hashKey(featureTable, name)).Err(); err != nil {
		return errors.Wrapf(err, "failed to delete %s row %q", featureTable, name)
	}
	return nil
}

// MergeTable implements Handle.
func (r *Redis) MergeTable(ctx context.Context, table, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.client.HSet(ctx, r.hashKey(table, key), toAnySlice(fields)).Err(); err != nil {
		return errors.Wrapf(err, "failed to merge %s row %q", table, key)
	}
	return nil
}

// Save implements Handle. It attempts a background save (BGSAVE) and falls
// back to a blocking SAVE whenever BGSAVE returns an error, including when a
// background save is already in progress.
func (r *Redis) Save(ctx context.Context) error {
	if err := r.client.BgSave(ctx).Err(); err != nil {
		if err := r.client.Save(ctx).Err(); err != nil {
			return errors.Wrap(err, errSaveFailed)
		}
	}
	return nil
}

func toAnySlice(fields map[string]string) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k, fields[k])
	}
	return out
}
