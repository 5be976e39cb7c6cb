// Package version implements semantic version parsing and the version
// constraint grammar used for package dependencies, conflicts, and base-OS
// compatibility checks.
package version

import (
	"encoding/json"
	"strings"

	"github.com/Masterminds/semver"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

const (
	errParseVersion = "cannot parse semantic version"
)

// Version is a parsed semantic version.
type Version struct {
	v *semver.Version
}

// Parse parses a semantic version string with Masterminds/semver's parser.
// It is not strict: shortened forms such as "2.0" or "2" and a leading "v"
// are accepted, with missing minor/patch parts read as 0.
func Parse(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, errors.Wrap(err, errParseVersion)
	}
	return Version{v: v}, nil
}

// MustParse parses s and panics on error. Intended for tests and constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the canonical string form of the version.
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// IsZero reports whether v is the zero Version (unset).
func (v Version) IsZero() bool {
	return v.v == nil
}

// Compare returns -1, 0, or 1 depending on whether v is less than, equal to,
// or greater than o, per semver 2.0 precedence rules.
func (v Version) Compare(o Version) int {
	return v.v.Compare(o.v)
}

// LessThan reports whether v < o.
func (v Version) LessThan(o Version) bool {
	return v.Compare(o) < 0
}

// GreaterThan reports whether v > o.
func (v Version) GreaterThan(o Version) bool {
	return v.Compare(o) > 0
}

// Equal reports whether v == o.
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

// MarshalYAML implements yaml.Marshaler.
func (v Version) MarshalYAML() (interface{}, error) {
	if v.IsZero() {
		return nil, nil
	}
	return v.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Version) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*v = Version{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Version) MarshalJSON() ([]byte, error) {
	if v.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(v.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Version) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*v = Version{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
