// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/heraldhq/herald/cmd/herald/commands"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env file is a development convenience; the gateway loads the
	// same one, so the CLI sees the same adapters root.
	_ = godotenv.Load()

	return commands.Root().Execute(os.Args[1:])
}
