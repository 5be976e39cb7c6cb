// Command sonic-package-manager is the CLI front end over the
// install/uninstall orchestrator, repository index, and dependency solver
// (spec.md §6). The core transactional engine lives in internal/...; this
// package only parses flags, wires the concrete collaborators together,
// and maps errors to exit codes.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	splogging "github.com/sonic-net/sonic-package-manager/internal/logging"
)

func newLogger(verbose bool) logging.Logger {
	return splogging.NewDefault(verbose)
}

// cli is the top-level command, mirroring spec.md §6's subset exactly:
// repository add/remove, list, package show manifest/changelog, install,
// uninstall.
type cli struct {
	// Global flags.
	Verbose       bool     `help:"Print verbose (debug) logging."                                short:"v"`
	Root          string   `help:"Override the package manager's state directory."                                placeholder:"PATH"`
	Platform      string   `help:"Opaque platform identifier used in template rendering."`
	VersionFile   string   `help:"Path to the host's base-OS version document."                   default:"/etc/sonic/sonic_version.yml"`
	RedisAddr     string   `help:"Host partition CONFIG_DB redis address (TCP host:port or unix socket path)."`
	AsicRedisAddr []string `help:"Per-ASIC partition redis address as NAME=ADDR; repeatable."`

	// Subcommands, in spec.md §6 order.
	Repository repositoryCmd `cmd:"" help:"Manage repositories in the index."`
	List       listCmd       `cmd:"" help:"List every repository in the index."`
	Package    packageCmd    `cmd:"" help:"Inspect an installed package's manifest or changelog."`
	Install    installCmd    `cmd:"" help:"Install a package."`
	Uninstall  uninstallCmd  `cmd:"" help:"Uninstall a package."`
}

func main() {
	var c cli
	parser := kong.Must(&c,
		kong.Name("sonic-package-manager"),
		kong.Description("Transactional install/uninstall engine for SONiC feature packages."),
		kong.UsageOnError(),
	)

	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	log := newLogger(c.Verbose)
	app, err := newAppContext(&c, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	kctx.Bind(app)

	if err := kctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
