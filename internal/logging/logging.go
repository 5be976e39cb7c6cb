// Package logging constructs the crossplane-runtime logging.Logger used
// throughout the package manager, over a go-logr/logr funcr backend
// writing to stderr (spec.md §4.0, ambient logging).
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/go-logr/logr/funcr"
)

// New returns a Logger that writes structured lines to w at the requested
// verbosity. debug enables logging.Debug output, mirroring the CLI's -v
// flag.
func New(w io.Writer, debug bool) logging.Logger {
	verbosity := 0
	if debug {
		verbosity = 1
	}
	sink := funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(w, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(w, args)
	}, funcr.Options{Verbosity: verbosity})

	return logging.NewLogrLogger(sink)
}

// NewDefault returns the standard stderr logger at the given verbosity.
func NewDefault(debug bool) logging.Logger {
	return New(os.Stderr, debug)
}
