package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sonic-net/sonic-package-manager/internal/version"
)

// installCmd implements spec.md §6's "install [--force] [--yes]
// NAME[==VERSION]".
type installCmd struct {
	Force bool   `help:"Suppress dependency, conflict, and base-OS version check failures."`
	Yes   bool   `help:"Do not prompt for confirmation."                                     short:"y"`
	Spec  string `arg:"" help:"Package name, optionally suffixed with ==VERSION."`
}

func (c *installCmd) Run(app *appContext) error {
	if err := requireRoot(); err != nil {
		return err
	}

	name, ver, err := parseInstallSpec(c.Spec)
	if err != nil {
		return err
	}

	if !c.Yes && !confirm(fmt.Sprintf("Install %s?", c.Spec)) {
		return nil
	}

	return app.orch.Install(context.Background(), name, ver, c.Force)
}

// parseInstallSpec splits "name==version" into its parts. A bare name
// yields a zero version, which the orchestrator resolves against the
// repository entry's default version.
func parseInstallSpec(spec string) (string, version.Version, error) {
	parts := strings.SplitN(spec, "==", 2)
	if len(parts) == 1 {
		return parts[0], version.Version{}, nil
	}
	v, err := version.Parse(parts[1])
	if err != nil {
		return "", version.Version{}, err
	}
	return parts[0], v, nil
}

// confirm prompts the operator for a yes/no answer on stdin, matching the
// interactive behavior --yes is meant to skip.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes"
}
