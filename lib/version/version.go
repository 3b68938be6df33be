// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// Package version carries build information for herald binaries,
// injected at build time via -ldflags:
//
//	go build -ldflags "-X github.com/heraldhq/herald/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at build time.
var (
	// Version is the semantic version, set manually for releases.
	Version = "0.1.0-dev"

	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// Info returns a one-line version string for --version output.
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildTime)
}

// Full returns version details including the Go runtime and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
