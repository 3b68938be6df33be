// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/heraldhq/herald/adapter"
	"github.com/heraldhq/herald/cmd/herald/cli"
	"github.com/heraldhq/herald/lib/config"
)

// adaptersCommand returns the "adapters" command group.
func adaptersCommand() *cli.Command {
	return &cli.Command{
		Name:    "adapters",
		Summary: "Manage installed platform adapters",
		Description: `Manage the platform adapters the gateway publishes through.

Adapters are self-contained bundles installed from git repositories.
Each bundle carries a manifest naming its platform, shortcode,
protocol, and service, plus the program the gateway invokes to
deliver publications. Bundles that declare dependencies get an
isolated runtime provisioned at install time.

All subcommands operate directly on the adapters root from the
gateway configuration; a running gateway sees the result on its
next request.`,
		Subcommands: []*cli.Command{
			listCommand(),
			addCommand(),
			removeCommand(),
			updateCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "List installed adapters",
				Command:     "herald adapters list",
			},
			{
				Description: "Install an adapter from its repository",
				Command:     "herald adapters add https://github.com/heraldhq/gmail-adapter",
			},
			{
				Description: "Remove every protocol variant of a platform",
				Command:     "herald adapters remove gmail",
			},
			{
				Description: "Update one adapter and reinstall its dependencies",
				Command:     "herald adapters update gmail --install",
			},
		},
	}
}

// loadManager builds the registry and manager over the configured
// adapters root. Every subcommand constructs its own instances; the
// per-adapter locking lives in the filesystem layout, not in process
// state.
func loadManager(configPath string) (*adapter.Registry, *adapter.Manager, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, nil, fmt.Errorf("preparing data directories: %w", err)
	}

	logger := cli.NewCommandLogger()
	registry := adapter.NewRegistry(adapter.Roots{
		Adapters: cfg.Paths.Adapters,
		Runtimes: cfg.Paths.Runtimes,
		Assets:   cfg.Paths.Assets,
		Staging:  cfg.Paths.Staging,
	}, logger.With("component", "registry"))
	if _, err := registry.Populate(); err != nil {
		return nil, nil, fmt.Errorf("populating adapter registry: %w", err)
	}

	manager := adapter.NewManager(registry, cfg.Adapters.Interpreter,
		logger.With("component", "adapters"))
	return registry, manager, nil
}

// commandContext returns a context cancelled by SIGINT or SIGTERM, so
// an interrupted clone or pull rolls back instead of leaving a
// half-installed bundle behind.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// listCommand returns the "list" subcommand.
func listCommand() *cli.Command {
	var configPath string
	var outputJSON bool

	return &cli.Command{
		Name:    "list",
		Summary: "List installed adapters",
		Description: `List every adapter in the registry with its platform name,
shortcode, protocol, and service.`,
		Usage: "herald adapters list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "config file path")
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON instead of a table")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "List installed adapters",
				Command:     "herald adapters list",
			},
			{
				Description: "List installed adapters as JSON",
				Command:     "herald adapters list --json",
			},
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("expected no positional arguments, got %d", len(args))
			}

			registry, _, err := loadManager(configPath)
			if err != nil {
				return err
			}

			type adapterRow struct {
				Name      string `json:"name"`
				Shortcode string `json:"shortcode"`
				Protocol  string `json:"protocol"`
				Service   string `json:"service"`
			}

			rows := []adapterRow{}
			for _, entry := range registry.List() {
				rows = append(rows, adapterRow{
					Name:      entry.Manifest.Name,
					Shortcode: entry.Manifest.Shortcode,
					Protocol:  entry.Manifest.Protocol,
					Service:   entry.Manifest.Service,
				})
			}

			if outputJSON {
				data, err := json.MarshalIndent(rows, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal JSON: %w", err)
				}
				fmt.Fprintln(os.Stdout, string(data))
				return nil
			}

			if len(rows) == 0 {
				fmt.Fprintln(os.Stderr, "no adapters installed")
				return nil
			}

			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(writer, "NAME\tSHORTCODE\tPROTOCOL\tSERVICE\n")
			for _, row := range rows {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
					row.Name, row.Shortcode, row.Protocol, row.Service)
			}
			return writer.Flush()
		},
	}
}

// addCommand returns the "add" subcommand.
func addCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "add",
		Summary: "Install an adapter from a git repository",
		Description: `Clone an adapter bundle from a git repository, validate it, and
install it under the adapters root. Bundles that declare
dependencies get an isolated runtime provisioned. Any failure
rolls the installation back completely.`,
		Usage: "herald adapters add [flags] <git-url>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("add", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "config file path")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Install the Gmail adapter",
				Command:     "herald adapters add https://github.com/heraldhq/gmail-adapter",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one git url\n\nusage: herald adapters add [flags] <git-url>")
			}
			gitURL := args[0]

			_, manager, err := loadManager(configPath)
			if err != nil {
				return err
			}

			ctx, stop := commandContext()
			defer stop()

			if _, err := manager.Add(ctx, gitURL); err != nil {
				return err
			}
			fmt.Printf("Adapter added successfully from %s.\n", gitURL)
			return nil
		},
	}
}

// removeCommand returns the "remove" subcommand.
func removeCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "remove",
		Summary: "Remove an installed adapter",
		Description: `Delete every protocol variant of the named adapter: the bundle
directory, its isolated runtime, and its private assets.`,
		Usage: "herald adapters remove [flags] <name>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("remove", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "config file path")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Remove the Gmail adapter",
				Command:     "herald adapters remove gmail",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one adapter name\n\nusage: herald adapters remove [flags] <name>")
			}
			name := args[0]

			_, manager, err := loadManager(configPath)
			if err != nil {
				return err
			}

			if err := manager.Remove(name); err != nil {
				return err
			}
			fmt.Printf("Adapter '%s' removed successfully.\n", name)
			return nil
		},
	}
}

// updateCommand returns the "update" subcommand.
func updateCommand() *cli.Command {
	var configPath string
	var install bool

	return &cli.Command{
		Name:    "update",
		Summary: "Update adapters by pulling the latest changes",
		Description: `Pull the latest changes for one adapter, or for every registered
adapter when no name is given. With --install, dependencies are
reinstalled into the adapter's runtime after the pull.`,
		Usage: "herald adapters update [flags] [name]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("update", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "config file path")
			flagSet.BoolVar(&install, "install", false, "Reinstall dependencies after updating.")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Update every adapter",
				Command:     "herald adapters update",
			},
			{
				Description: "Update one adapter and reinstall its dependencies",
				Command:     "herald adapters update gmail --install",
			},
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("expected at most one adapter name\n\nusage: herald adapters update [flags] [name]")
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}

			_, manager, err := loadManager(configPath)
			if err != nil {
				return err
			}

			ctx, stop := commandContext()
			defer stop()

			if err := manager.Update(ctx, name, install); err != nil {
				return err
			}
			if name != "" {
				fmt.Printf("Adapter '%s' updated successfully.\n", name)
			} else {
				fmt.Println("All adapters updated successfully.")
			}
			return nil
		},
	}
}
