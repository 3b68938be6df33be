// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Herald components.
//
// Configuration is loaded from a single file specified by either the
// HERALD_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no ~/.config discovery and no automatic
// file search; when HERALD_CONFIG is unset, [Load] returns the
// development defaults so a local gateway runs without any file.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${HERALD_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Gateway, Vault, Adapters, Notify
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Herald packages.
package config
