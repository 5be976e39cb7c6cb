package main

import (
	"context"
	"fmt"

	"github.com/sonic-net/sonic-package-manager/internal/version"
)

// repositoryCmd groups the "repository add"/"repository remove"
// subcommands (spec.md §6).
type repositoryCmd struct {
	Add    repositoryAddCmd    `cmd:"" help:"Add a repository to the index."`
	Remove repositoryRemoveCmd `cmd:"" help:"Remove a repository from the index."`
}

type repositoryAddCmd struct {
	Name           string `arg:"" help:"Repository name."`
	URL            string `arg:"" help:"Image reference."`
	Description    string `help:"Human-readable description."                      short:"d"`
	DefaultVersion string `help:"Default version to install when none is given."    name:"default-version"`
}

func (c *repositoryAddCmd) Run(app *appContext) error {
	if err := requireRoot(); err != nil {
		return err
	}

	var ver version.Version
	if c.DefaultVersion != "" {
		v, err := version.Parse(c.DefaultVersion)
		if err != nil {
			return err
		}
		ver = v
	}

	return app.index.Add(c.Name, c.URL, c.Description, ver)
}

type repositoryRemoveCmd struct {
	Name string `arg:"" help:"Repository name."`
}

func (c *repositoryRemoveCmd) Run(app *appContext) error {
	if err := requireRoot(); err != nil {
		return err
	}
	return app.index.Remove(c.Name)
}

// listCmd implements spec.md §6's "list" command: a table of Name,
// Repository, Description, Version, Status.
type listCmd struct{}

func (c *listCmd) Run(app *appContext) error {
	return app.withReadLock(context.Background(), func() error {
		entries := app.index.List()

		fmt.Printf("%-20s %-30s %-20s %-10s %s\n", "Name", "Repository", "Description", "Version", "Status")
		for _, e := range entries {
			ver := "N/A"
			if e.Installed() {
				ver = e.Version.String()
			}
			status := "Not Installed"
			if e.Installed() {
				status = "Installed"
			}
			fmt.Printf("%-20s %-30s %-20s %-10s %s\n", e.Name, e.Repository, e.Description, ver, status)
		}
		return nil
	})
}
