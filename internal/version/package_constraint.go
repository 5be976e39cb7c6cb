package version

import (
	"encoding/json"
	"strings"
)

// PackageConstraint pairs a package name with a version constraint, e.g.
// "bar >=2.0". When the constraint expression is omitted the default is "*".
type PackageConstraint struct {
	Name       string
	Constraint Constraint
}

// ParsePackageConstraint parses the "<name>[ <constraint-expr>]" text form.
func ParsePackageConstraint(s string) (PackageConstraint, error) {
	s = strings.TrimSpace(s)
	fields := strings.SplitN(s, " ", 2)
	name := strings.TrimSpace(fields[0])

	if len(fields) == 1 {
		return PackageConstraint{Name: name, Constraint: Any()}, nil
	}

	c, err := ParseConstraint(strings.TrimSpace(fields[1]))
	if err != nil {
		return PackageConstraint{}, err
	}
	return PackageConstraint{Name: name, Constraint: c}, nil
}

// String renders the text form.
func (p PackageConstraint) String() string {
	if p.Constraint.String() == "*" {
		return p.Name
	}
	return p.Name + " " + p.Constraint.String()
}

// MarshalYAML implements yaml.Marshaler.
func (p PackageConstraint) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *PackageConstraint) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParsePackageConstraint(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p PackageConstraint) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PackageConstraint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePackageConstraint(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
