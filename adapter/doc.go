// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter discovers, registers, and manages platform adapter
// bundles.
//
// An adapter bundle is a git-cloned directory carrying a manifest.ini
// (platform name, shortcode, protocol type, service type), a config.ini
// for the adapter's own use, a main.py entrypoint, and optionally a
// requirements.txt declaring dependencies that are installed into an
// isolated runtime. Bundles live under a single adapters root; their
// runtimes and private writable assets live under sibling roots so
// nothing an adapter writes at run time disturbs the bundle tree.
//
// [Registry] is the in-memory lookup the gateway consults on every
// publish: keyed by lowercase(name)_lowercase(protocol), with a linear
// shortcode scan. It rescans the adapters root only when a BLAKE3 hash
// over the tree's sorted paths and contents changes, so calling
// [Registry.Populate] per request is cheap.
//
// [Manager] owns the lifecycle mutations: add (clone into staging,
// validate, install, provision), remove, and update via git pull.
// Every mutation is serialized per adapter name and rolls back fully
// on failure; no partial bundle is ever left installed.
package adapter
