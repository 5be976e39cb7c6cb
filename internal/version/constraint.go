package version

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

const (
	errEmptyTerm        = "empty constraint term"
	errUnknownOperator  = "unknown comparison operator %q"
	errInvalidTermValue = "invalid version in constraint term %q"
)

// comparator is a single comparison term, e.g. ">= 1.2.3" or "*".
type comparator struct {
	op      string
	version Version
	wild    bool
}

func (c comparator) check(v Version) bool {
	if c.wild {
		return true
	}
	switch c.op {
	case "=", "":
		return v.Equal(c.version)
	case "<":
		return v.LessThan(c.version)
	case "<=":
		return v.LessThan(c.version) || v.Equal(c.version)
	case ">":
		return v.GreaterThan(c.version)
	case ">=":
		return v.GreaterThan(c.version) || v.Equal(c.version)
	}
	return false
}

// Constraint is a set-algebraic predicate over versions: a union (||) of
// conjunctions (whitespace-separated comparator terms). The zero Constraint
// is equivalent to "*", matching the manifest default for an absent
// constraint field.
type Constraint struct {
	// disjuncts is the OR list; each entry is an AND list of comparators.
	disjuncts [][]comparator
	raw       string
}

// terms returns the disjunct list, substituting the wildcard for the zero
// Constraint so an unset field behaves as "*".
func (c Constraint) terms() [][]comparator {
	if len(c.disjuncts) == 0 {
		return [][]comparator{{{wild: true}}}
	}
	return c.disjuncts
}

// Any is the "*" constraint, satisfied by every version.
func Any() Constraint {
	return Constraint{disjuncts: [][]comparator{{{wild: true}}}, raw: "*"}
}

// ParseConstraint parses the constraint grammar described in the package
// manager's version model: whitespace-separated conjunctions of comparator
// terms, "||"-separated disjunctions, a bare version defaulting to "=".
func ParseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return Any(), nil
	}

	var disjuncts [][]comparator
	for _, orTerm := range strings.Split(s, "||") {
		orTerm = strings.TrimSpace(orTerm)
		if orTerm == "" {
			return Constraint{}, errors.New(errEmptyTerm)
		}
		fields := strings.Fields(orTerm)
		conj := make([]comparator, 0, len(fields))
		for _, f := range fields {
			c, err := parseComparator(f)
			if err != nil {
				return Constraint{}, err
			}
			conj = append(conj, c)
		}
		disjuncts = append(disjuncts, conj)
	}

	return Constraint{disjuncts: disjuncts, raw: s}, nil
}

func parseComparator(term string) (comparator, error) {
	if term == "*" {
		return comparator{wild: true}, nil
	}

	ops := []string{">=", "<=", ">", "<", "="}
	for _, op := range ops {
		if strings.HasPrefix(term, op) {
			rest := strings.TrimSpace(strings.TrimPrefix(term, op))
			v, err := Parse(rest)
			if err != nil {
				return comparator{}, errors.Wrapf(err, errInvalidTermValue, term)
			}
			return comparator{op: op, version: v}, nil
		}
	}

	// Bare version: default comparator is "=".
	v, err := Parse(term)
	if err != nil {
		return comparator{}, errors.Wrapf(err, errInvalidTermValue, term)
	}
	return comparator{op: "=", version: v}, nil
}

// AllowsAll reports whether v satisfies the constraint.
func (c Constraint) AllowsAll(v Version) bool {
	for _, conj := range c.terms() {
		ok := true
		for _, comp := range conj {
			if !comp.check(v) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// String returns the original constraint text.
func (c Constraint) String() string {
	if c.raw == "" {
		return "*"
	}
	return c.raw
}

// bound is one side of a canonical interval.
type bound struct {
	unbounded bool
	inclusive bool
	value     Version
}

type interval struct {
	low, high bound
}

// canonical collapses the constraint into a sorted, minimal set of disjoint
// intervals, used only for equality comparison.
func (c Constraint) canonical() []interval {
	conjs := c.terms()
	out := make([]interval, 0, len(conjs))
	for _, conj := range conjs {
		iv, ok := conjunctionInterval(conj)
		if ok {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lowLess(out[i].low, out[j].low)
	})
	return mergeIntervals(out)
}

func conjunctionInterval(conj []comparator) (interval, bool) {
	low := bound{unbounded: true}
	high := bound{unbounded: true}
	var exact *Version

	for _, c := range conj {
		switch {
		case c.wild:
			continue
		case c.op == "=" || c.op == "":
			if exact != nil && !exact.Equal(c.version) {
				return interval{}, false
			}
			v := c.version
			exact = &v
		case c.op == "<":
			if high.unbounded || c.version.LessThan(high.value) || (c.version.Equal(high.value) && high.inclusive) {
				high = bound{inclusive: false, value: c.version}
			}
		case c.op == "<=":
			if high.unbounded || c.version.LessThan(high.value) {
				high = bound{inclusive: true, value: c.version}
			}
		case c.op == ">":
			if low.unbounded || c.version.GreaterThan(low.value) || (c.version.Equal(low.value) && low.inclusive) {
				low = bound{inclusive: false, value: c.version}
			}
		case c.op == ">=":
			if low.unbounded || c.version.GreaterThan(low.value) {
				low = bound{inclusive: true, value: c.version}
			}
		}
	}

	if exact != nil {
		if !boundAllows(low, *exact, true) || !boundAllows(high, *exact, false) {
			return interval{}, false
		}
		return interval{
			low:  bound{inclusive: true, value: *exact},
			high: bound{inclusive: true, value: *exact},
		}, true
	}

	if !low.unbounded && !high.unbounded {
		if low.value.GreaterThan(high.value) {
			return interval{}, false
		}
		if low.value.Equal(high.value) && !(low.inclusive && high.inclusive) {
			return interval{}, false
		}
	}

	return interval{low: low, high: high}, true
}

func boundAllows(b bound, v Version, isLow bool) bool {
	if b.unbounded {
		return true
	}
	if isLow {
		if b.inclusive {
			return v.GreaterThan(b.value) || v.Equal(b.value)
		}
		return v.GreaterThan(b.value)
	}
	if b.inclusive {
		return v.LessThan(b.value) || v.Equal(b.value)
	}
	return v.LessThan(b.value)
}

func lowLess(a, b bound) bool {
	if a.unbounded {
		return !b.unbounded
	}
	if b.unbounded {
		return false
	}
	if a.value.Equal(b.value) {
		return a.inclusive && !b.inclusive
	}
	return a.value.LessThan(b.value)
}

func mergeIntervals(in []interval) []interval {
	if len(in) == 0 {
		return in
	}
	out := []interval{in[0]}
	for _, next := range in[1:] {
		last := &out[len(out)-1]
		if intervalsOverlapOrTouch(*last, next) {
			if highLess(last.high, next.high) {
				last.high = next.high
			}
			continue
		}
		out = append(out, next)
	}
	return out
}

func highLess(a, b bound) bool {
	if a.unbounded {
		return false
	}
	if b.unbounded {
		return true
	}
	if a.value.Equal(b.value) {
		return !a.inclusive && b.inclusive
	}
	return a.value.LessThan(b.value)
}

func intervalsOverlapOrTouch(a, b interval) bool {
	if a.high.unbounded || b.low.unbounded {
		return true
	}
	if a.high.value.LessThan(b.low.value) {
		return false
	}
	if a.high.value.Equal(b.low.value) {
		return a.high.inclusive || b.low.inclusive
	}
	return true
}

// Equal reports whether c and o are definitionally equivalent: their
// canonical interval unions are identical.
func (c Constraint) Equal(o Constraint) bool {
	ca, cb := c.canonical(), o.canonical()
	if len(ca) != len(cb) {
		return false
	}
	for i := range ca {
		if !boundEqual(ca[i].low, cb[i].low) || !boundEqual(ca[i].high, cb[i].high) {
			return false
		}
	}
	return true
}

func boundEqual(a, b bound) bool {
	if a.unbounded != b.unbounded {
		return false
	}
	if a.unbounded {
		return true
	}
	return a.inclusive == b.inclusive && a.value.Equal(b.value)
}

// MarshalYAML implements yaml.Marshaler.
func (c Constraint) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Constraint) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseConstraint(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c Constraint) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Constraint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseConstraint(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
