// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/heraldhq/herald/lib/gitx"
)

// namedLocks serializes filesystem mutation per adapter name while
// letting operations on distinct adapters proceed in parallel.
type namedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// acquire locks the mutex for name and returns its unlock function.
func (n *namedLocks) acquire(name string) func() {
	n.mu.Lock()
	if n.locks == nil {
		n.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := n.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		n.locks[name] = lock
	}
	n.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Manager performs adapter lifecycle mutations: add from a git source,
// remove, and update. All mutations end with a registry repopulation
// so lookups never serve a stale view of the adapters tree.
type Manager struct {
	registry    *Registry
	interpreter string
	logger      *slog.Logger
	locks       namedLocks
}

// NewManager creates a manager over the registry's roots. interpreter
// is the host interpreter used to create isolated runtimes
// (typically "python3").
func NewManager(registry *Registry, interpreter string, logger *slog.Logger) *Manager {
	return &Manager{
		registry:    registry,
		interpreter: interpreter,
		logger:      logger,
	}
}

// Add clones an adapter bundle from gitURL, validates it, installs it
// under its canonical name, and provisions its isolated runtime when
// the bundle declares dependencies. Any failure rolls back completely:
// the staging clone, the installed directory, and the partial runtime
// are all removed, and the registry is repopulated.
func (m *Manager) Add(ctx context.Context, gitURL string) (entry Entry, err error) {
	roots := m.registry.roots

	if err := os.MkdirAll(roots.Staging, 0755); err != nil {
		return Entry{}, fmt.Errorf("creating staging root: %w", err)
	}
	stagingDir, err := os.MkdirTemp(roots.Staging, "add-")
	if err != nil {
		return Entry{}, fmt.Errorf("creating staging dir: %w", err)
	}

	// Paths to delete if any later step fails.
	rollback := []string{stagingDir}
	defer func() {
		if err == nil {
			return
		}
		for _, path := range rollback {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				m.logger.Warn("rollback cleanup failed", "path", path, "error", rmErr)
			}
		}
		if _, popErr := m.registry.Populate(); popErr != nil {
			m.logger.Warn("registry repopulation after rollback failed", "error", popErr)
		}
	}()

	if err := gitx.Clone(ctx, gitURL, stagingDir); err != nil {
		return Entry{}, fmt.Errorf("fetching adapter: %w", err)
	}
	if err := ValidateBundle(stagingDir); err != nil {
		return Entry{}, err
	}
	manifest, err := LoadManifest(stagingDir)
	if err != nil {
		return Entry{}, err
	}

	key := manifest.Key()
	unlock := m.locks.acquire(strings.ToLower(manifest.Name))
	defer unlock()

	targetDir := filepath.Join(roots.Adapters, key)
	if _, err := os.Stat(targetDir); err == nil {
		return Entry{}, fmt.Errorf("adapter %q already exists", key)
	}

	if err := os.MkdirAll(roots.Adapters, 0755); err != nil {
		return Entry{}, fmt.Errorf("creating adapters root: %w", err)
	}
	if err := os.Rename(stagingDir, targetDir); err != nil {
		return Entry{}, fmt.Errorf("installing adapter: %w", err)
	}
	rollback = append(rollback, targetDir)

	if HasRequirements(targetDir) {
		runtimeDir := filepath.Join(roots.Runtimes, key)
		rollback = append(rollback, runtimeDir)
		if err := m.provisionRuntime(ctx, targetDir, runtimeDir); err != nil {
			return Entry{}, err
		}
	}

	if _, err := m.registry.Populate(); err != nil {
		return Entry{}, fmt.Errorf("repopulating registry: %w", err)
	}

	installed, ok := m.registry.Get(manifest.Name, manifest.Protocol)
	if !ok {
		return Entry{}, fmt.Errorf("adapter %q installed but did not register", key)
	}

	m.logger.Info("adapter added", "key", key, "shortcode", manifest.Shortcode, "source", gitURL)
	return installed, nil
}

// Remove deletes every protocol variant of the named adapter: bundle
// directory, isolated runtime, and private assets. Unknown names are
// an error.
func (m *Manager) Remove(name string) error {
	unlock := m.locks.acquire(strings.ToLower(name))
	defer unlock()

	var matched []Entry
	for _, entry := range m.registry.List() {
		if strings.EqualFold(entry.Manifest.Name, name) {
			matched = append(matched, entry)
		}
	}
	if len(matched) == 0 {
		return fmt.Errorf("unknown adapter %q", name)
	}

	for _, entry := range matched {
		for _, dir := range []string{entry.Location.Dir, entry.Location.Runtime, entry.Location.Assets} {
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("removing %s: %w", dir, err)
			}
		}
		m.logger.Info("adapter removed", "key", entry.Manifest.Key())
	}

	if _, err := m.registry.Populate(); err != nil {
		return fmt.Errorf("repopulating registry: %w", err)
	}
	return nil
}

// Update pulls the latest changes for one adapter (all protocol
// variants of name) or, with an empty name, for every registered
// adapter. With reinstall set, dependencies are reprovisioned after
// the pull. A failure aborts the remaining batch.
func (m *Manager) Update(ctx context.Context, name string, reinstall bool) error {
	var targets []Entry
	if name == "" {
		targets = m.registry.List()
	} else {
		for _, entry := range m.registry.List() {
			if strings.EqualFold(entry.Manifest.Name, name) {
				targets = append(targets, entry)
			}
		}
		if len(targets) == 0 {
			return fmt.Errorf("unknown adapter %q", name)
		}
	}

	defer func() {
		if _, err := m.registry.Populate(); err != nil {
			m.logger.Warn("registry repopulation after update failed", "error", err)
		}
	}()

	for _, entry := range targets {
		if err := m.updateOne(ctx, entry, reinstall); err != nil {
			return fmt.Errorf("updating %s: %w", entry.Manifest.Key(), err)
		}
	}
	return nil
}

func (m *Manager) updateOne(ctx context.Context, entry Entry, reinstall bool) error {
	unlock := m.locks.acquire(strings.ToLower(entry.Manifest.Name))
	defer unlock()

	if err := gitx.NewRepository(entry.Location.Dir).Pull(ctx); err != nil {
		return err
	}

	if reinstall && HasRequirements(entry.Location.Dir) {
		if err := m.provisionRuntime(ctx, entry.Location.Dir, entry.Location.Runtime); err != nil {
			return err
		}
	}

	m.logger.Info("adapter updated", "key", entry.Manifest.Key(), "reinstall", reinstall)
	return nil
}

// provisionRuntime creates (or refreshes) the isolated runtime for the
// bundle at bundleDir and installs its declared dependencies into it.
func (m *Manager) provisionRuntime(ctx context.Context, bundleDir, runtimeDir string) error {
	if err := os.MkdirAll(filepath.Dir(runtimeDir), 0755); err != nil {
		return fmt.Errorf("creating runtimes root: %w", err)
	}

	if err := runCommand(ctx, m.interpreter, "-m", "venv", runtimeDir); err != nil {
		return fmt.Errorf("creating runtime: %w", err)
	}

	pip := filepath.Join(runtimeDir, "bin", "pip")
	requirements := filepath.Join(bundleDir, requirementsFile)
	if err := runCommand(ctx, pip, "install", "-r", requirements); err != nil {
		return fmt.Errorf("installing dependencies: %w", err)
	}
	return nil
}

// runCommand runs a provisioning command, folding stderr into the
// returned error.
func runCommand(ctx context.Context, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
