package main

import (
	"context"
	"fmt"
)

// uninstallCmd implements spec.md §6's "uninstall [--force] [--yes] NAME".
type uninstallCmd struct {
	Force bool   `help:"Suppress dependency and conflict check failures."`
	Yes   bool   `help:"Do not prompt for confirmation."                   short:"y"`
	Name  string `arg:"" help:"Package name."`
}

func (c *uninstallCmd) Run(app *appContext) error {
	if err := requireRoot(); err != nil {
		return err
	}

	if !c.Yes && !confirm(fmt.Sprintf("Uninstall %s?", c.Name)) {
		return nil
	}

	return app.orch.Uninstall(context.Background(), c.Name, c.Force)
}
