// Package spmerrors declares the typed error kinds used across the package
// manager so that orchestration and CLI layers can distinguish failure modes
// with errors.As rather than string matching.
package spmerrors

import (
	"fmt"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

// NotFoundError indicates a repository, package, or manifest is missing.
type NotFoundError struct {
	Subject string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found", e.Subject) }

// NewNotFound returns a NotFoundError for subject.
func NewNotFound(subject string) error { return &NotFoundError{Subject: subject} }

// AlreadyExistsError indicates a repository-name collision on add.
type AlreadyExistsError struct {
	Name string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("repository %q already exists", e.Name)
}

// NewAlreadyExists returns an AlreadyExistsError for name.
func NewAlreadyExists(name string) error { return &AlreadyExistsError{Name: name} }

// StillInstalledError indicates remove-repository was attempted on an
// installed entry.
type StillInstalledError struct {
	Name string
}

func (e *StillInstalledError) Error() string {
	return fmt.Sprintf("repository %q is still installed", e.Name)
}

// NewStillInstalled returns a StillInstalledError for name.
func NewStillInstalled(name string) error { return &StillInstalledError{Name: name} }

// VersionUnspecifiedError indicates an install request lacks both an
// explicit and a default version.
type VersionUnspecifiedError struct {
	Name string
}

func (e *VersionUnspecifiedError) Error() string {
	return fmt.Sprintf("no version specified for %q and no default version is set", e.Name)
}

// NewVersionUnspecified returns a VersionUnspecifiedError for name.
func NewVersionUnspecified(name string) error { return &VersionUnspecifiedError{Name: name} }

// DependencyError indicates a required package/version is not present.
type DependencyError struct {
	Candidate  string
	Dependency string
	Constraint string
	Observed   string
}

func (e *DependencyError) Error() string {
	if e.Observed == "" {
		return fmt.Sprintf("%s depends on %s %s, which is not installed", e.Candidate, e.Dependency, e.Constraint)
	}
	return fmt.Sprintf("%s depends on %s %s, but %s is installed", e.Candidate, e.Dependency, e.Constraint, e.Observed)
}

// ConflictError indicates an installed package conflicts with the candidate
// (or vice versa).
type ConflictError struct {
	Candidate  string
	Conflict   string
	Constraint string
	Observed   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflicts with %s %s, but %s is installed", e.Candidate, e.Conflict, e.Constraint, e.Observed)
}

// OSVersionError indicates the base-OS version fails the package's
// compatibility constraint.
type OSVersionError struct {
	Package    string
	Constraint string
	Observed   string
}

func (e *OSVersionError) Error() string {
	return fmt.Sprintf("%s requires base OS %s, but %s is installed", e.Package, e.Constraint, e.Observed)
}

// InstallationError wraps any failure in container driver, metadata
// extraction, file generation, registry write, or config persistence. It
// carries the phase name in which the failure occurred.
type InstallationError struct {
	Phase string
	Err   error
}

func (e *InstallationError) Error() string {
	return fmt.Sprintf("installation failed in phase %s: %v", e.Phase, e.Err)
}

func (e *InstallationError) Unwrap() error { return e.Err }

// NewInstallationError wraps err with the phase it occurred in.
func NewInstallationError(phase string, err error) error {
	if err == nil {
		return nil
	}
	return &InstallationError{Phase: phase, Err: err}
}

// CorruptError indicates the index file is unparseable, or an installed
// entry is missing its manifest.
type CorruptError struct {
	Subject string
	Err     error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%s is corrupt: %v", e.Subject, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// NewCorrupt returns a CorruptError for subject wrapping err.
func NewCorrupt(subject string, err error) error {
	return &CorruptError{Subject: subject, Err: err}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsDependencyError reports whether err is (or wraps) a DependencyError.
func IsDependencyError(err error) bool {
	var e *DependencyError
	return errors.As(err, &e)
}

// IsConflictError reports whether err is (or wraps) a ConflictError.
func IsConflictError(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsOSVersionError reports whether err is (or wraps) an OSVersionError.
func IsOSVersionError(err error) bool {
	var e *OSVersionError
	return errors.As(err, &e)
}
