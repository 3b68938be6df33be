// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the herald CLI command tree. The CLI
// manages the adapter installation that the gateway serves from: it
// operates on the same adapters root with the same registry and
// manager code, so an adapter added here is visible to a running
// gateway on its next rescan.
package commands

import (
	"fmt"

	"github.com/heraldhq/herald/cmd/herald/cli"
	"github.com/heraldhq/herald/lib/version"
)

// Root builds and returns the complete herald CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "herald",
		Description: `Herald: publication gateway administration.

Manage the platform adapters the gateway publishes through. Adapters
are installed from git repositories into the shared adapters root;
a running gateway picks up changes without a restart.`,
		Subcommands: []*cli.Command{
			adaptersCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("herald %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "See what adapters are installed",
				Command:     "herald adapters list",
			},
			{
				Description: "Install the Gmail adapter",
				Command:     "herald adapters add https://github.com/heraldhq/gmail-adapter",
			},
			{
				Description: "Pull the latest changes for every adapter",
				Command:     "herald adapters update",
			},
		},
	}
}
