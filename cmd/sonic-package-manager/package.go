package main

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sonic-net/sonic-package-manager/internal/version"
)

// packageCmd groups the "package show manifest"/"package show changelog"
// subcommands (spec.md §6).
type packageCmd struct {
	Show packageShowCmd `cmd:"" help:"Show package metadata."`
}

type packageShowCmd struct {
	Manifest  packageShowManifestCmd  `cmd:"" help:"Print an installed package's manifest."`
	Changelog packageShowChangelogCmd `cmd:"" help:"Print an installed package's changelog."`
}

type packageShowManifestCmd struct {
	Name string `arg:"" help:"Package name."`
}

func (c *packageShowManifestCmd) Run(app *appContext) error {
	return app.withReadLock(context.Background(), func() error {
		m, err := app.manifestFor(c.Name)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(m)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	})
}

type packageShowChangelogCmd struct {
	Name string `arg:"" help:"Package name."`
}

func (c *packageShowChangelogCmd) Run(app *appContext) error {
	return app.withReadLock(context.Background(), func() error {
		m, err := app.manifestFor(c.Name)
		if err != nil {
			return err
		}

		type entry struct {
			v     version.Version
			lines []string
		}
		entries := make([]entry, 0, len(m.Package.Changelog))
		for raw, lines := range m.Package.Changelog {
			v, err := version.Parse(raw)
			if err != nil {
				continue
			}
			entries = append(entries, entry{v: v, lines: lines})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].v.LessThan(entries[j].v) })

		for _, e := range entries {
			fmt.Printf("%s:\n", e.v.String())
			for _, line := range e.lines {
				fmt.Printf("  - %s\n", line)
			}
		}
		return nil
	})
}
