// Package dependency implements the Dependency/Conflict Solver (spec.md
// §4.10): a static per-row satisfaction check over the installed set, run
// before install and before uninstall.
package dependency

import (
	"sort"

	"github.com/sonic-net/sonic-package-manager/internal/spmerrors"
	"github.com/sonic-net/sonic-package-manager/internal/version"
)

// Row is one package's dependency/conflict/version facts, as they would
// exist in the installed set.
type Row struct {
	Name         string
	Version      version.Version
	Dependencies []version.PackageConstraint
	Conflicts    []version.PackageConstraint
}

// Graph is the map of installed rows the solver checks against.
type Graph map[string]Row

// NewGraph builds a Graph from the given rows, keyed by name.
func NewGraph(rows []Row) Graph {
	g := make(Graph, len(rows))
	for _, r := range rows {
		g[r.Name] = r
	}
	return g
}

// clone returns a shallow copy of g, safe to mutate independently.
func (g Graph) clone() Graph {
	out := make(Graph, len(g))
	for k, v := range g {
		out[k] = v
	}
	return out
}

// CheckInstall validates that inserting (or replacing) candidate into g
// keeps every dependency satisfied and every conflict unsatisfied, across
// every row (not just the candidate) — so that the candidate's arrival
// cannot itself break an already-installed package's constraints.
func CheckInstall(g Graph, candidate Row) error {
	next := g.clone()
	next[candidate.Name] = candidate
	return check(next)
}

// CheckUninstall validates removing candidateName from g, catching any
// remaining row that depends on it.
func CheckUninstall(g Graph, candidateName string) error {
	next := g.clone()
	delete(next, candidateName)
	return check(next)
}

// check runs the per-row satisfaction scan described in spec.md §4.10 step
// 2, returning the first violation found. Rows are visited in name order so
// the first violation is deterministic across runs.
func check(g Graph) error {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		row := g[name]
		for _, dep := range row.Dependencies {
			target, ok := g[dep.Name]
			if !ok {
				return &spmerrors.DependencyError{Candidate: name, Dependency: dep.Name, Constraint: dep.Constraint.String()}
			}
			if !dep.Constraint.AllowsAll(target.Version) {
				return &spmerrors.DependencyError{
					Candidate:  name,
					Dependency: dep.Name,
					Constraint: dep.Constraint.String(),
					Observed:   target.Version.String(),
				}
			}
		}
		for _, conf := range row.Conflicts {
			target, ok := g[conf.Name]
			if !ok {
				continue
			}
			if conf.Constraint.AllowsAll(target.Version) {
				return &spmerrors.ConflictError{
					Candidate:  name,
					Conflict:   conf.Name,
					Constraint: conf.Constraint.String(),
					Observed:   target.Version.String(),
				}
			}
		}
	}
	return nil
}

// WithForce filters the error returned by a check (CheckInstall,
// CheckUninstall, or the orchestrator's base-OS version check). When force
// is set, a DependencyError, ConflictError, or OSVersionError is passed to
// warn and nil is returned; any other error, and every error when force is
// unset, is returned unchanged. warn is the caller's logging sink and may
// be nil.
func WithForce(force bool, warn func(error), err error) error {
	if err == nil {
		return nil
	}
	if !force {
		return err
	}
	if spmerrors.IsDependencyError(err) || spmerrors.IsConflictError(err) || spmerrors.IsOSVersionError(err) {
		if warn != nil {
			warn(err)
		}
		return nil
	}
	return err
}
