// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Roots is the directory layout the registry and manager operate on.
// The four trees are deliberately separate: only Adapters contributes
// to the content hash, so provisioning a runtime, an adapter writing
// its assets, or a half-finished staging clone never forces a rescan.
type Roots struct {
	// Adapters holds one installed bundle directory per adapter,
	// named by its canonical key.
	Adapters string

	// Runtimes holds one isolated interpreter environment per adapter.
	Runtimes string

	// Assets holds one private writable directory per adapter.
	Assets string

	// Staging is scratch space for clones still being validated.
	Staging string
}

// Location binds a registered adapter to its on-disk directories.
type Location struct {
	// Dir is the installed bundle directory.
	Dir string

	// Runtime is the adapter's isolated interpreter environment. The
	// directory exists only for bundles that declare dependencies.
	Runtime string

	// Assets is the adapter's private writable directory.
	Assets string
}

// Entry is one registered adapter: its manifest plus resolved
// locations.
type Entry struct {
	Manifest Manifest
	Location Location
}

// Registry is the in-memory adapter lookup. Reads (every inbound
// publish resolves a shortcode and an adapter path) take a read lock
// and are concurrent; rebuilds take the write lock. Rebuilds happen
// only when the adapters tree's content hash changes, so Populate is
// safe to call on every request.
type Registry struct {
	roots  Roots
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry
	hash    Hash
}

// NewRegistry creates an unpopulated registry over the given roots.
// Call [Registry.Populate] before the first lookup.
func NewRegistry(roots Roots, logger *slog.Logger) *Registry {
	return &Registry{
		roots:  roots,
		logger: logger,
	}
}

// Populate rescans the adapters root if its content hash has changed
// since the last scan. It reports whether a rescan actually happened.
func (r *Registry) Populate() (bool, error) {
	hash, err := HashTree(r.roots.Adapters)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries != nil && hash == r.hash {
		return false, nil
	}

	entries, err := r.scan()
	if err != nil {
		return false, err
	}

	r.entries = entries
	r.hash = hash
	return true, nil
}

// scan reads every bundle directory under the adapters root. Invalid
// bundles are skipped with a warning, never fatal: one broken adapter
// must not take the gateway down. Caller holds the write lock.
func (r *Registry) scan() (map[string]Entry, error) {
	dirs, err := os.ReadDir(r.roots.Adapters)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]Entry{}, nil
		}
		return nil, fmt.Errorf("reading adapters root: %w", err)
	}

	entries := make(map[string]Entry, len(dirs))
	shortcodes := make(map[string]string, len(dirs))

	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		bundleDir := filepath.Join(r.roots.Adapters, dir.Name())

		if err := ValidateBundle(bundleDir); err != nil {
			r.logger.Warn("skipping adapter bundle", "dir", dir.Name(), "error", err)
			continue
		}

		manifest, err := LoadManifest(bundleDir)
		if err != nil {
			r.logger.Warn("skipping adapter bundle", "dir", dir.Name(), "error", err)
			continue
		}

		key := manifest.Key()
		if _, exists := entries[key]; exists {
			r.logger.Warn("skipping adapter bundle with duplicate key",
				"dir", dir.Name(), "key", key)
			continue
		}
		if holder, exists := shortcodes[manifest.Shortcode]; exists {
			r.logger.Warn("skipping adapter bundle with duplicate shortcode",
				"dir", dir.Name(), "shortcode", manifest.Shortcode, "held_by", holder)
			continue
		}
		shortcodes[manifest.Shortcode] = key

		entries[key] = Entry{
			Manifest: *manifest,
			Location: Location{
				Dir:     bundleDir,
				Runtime: filepath.Join(r.roots.Runtimes, key),
				Assets:  filepath.Join(r.roots.Assets, key),
			},
		}
	}

	return entries, nil
}

// Get looks up an adapter by name and protocol, case-insensitively.
func (r *Registry) Get(name, protocol string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[Key(name, protocol)]
	return entry, ok
}

// ByShortcode looks up an adapter by its payload shortcode. The
// registry holds O(dozens) entries, so a linear scan beats maintaining
// a second index.
func (r *Registry) ByShortcode(shortcode string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		if entry.Manifest.Shortcode == shortcode {
			return entry, true
		}
	}
	return Entry{}, false
}

// List returns all registered adapters sorted by key.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Manifest.Key() < entries[j].Manifest.Key()
	})
	return entries
}

// Hash returns the content hash of the last populated scan.
func (r *Registry) Hash() Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hash
}
