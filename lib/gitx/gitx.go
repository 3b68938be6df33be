// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// Package gitx wraps the git CLI for adapter bundle management.
// Adapters arrive and update through their upstream repositories, so
// the gateway only needs clone, pull, and origin inspection, all
// executed against an explicit directory via "git -C".
package gitx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Clone clones url into dir. The parent of dir must exist; dir itself
// must not.
func Clone(ctx context.Context, url, dir string) error {
	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", "clone", "--depth", "1", url, dir)
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return fmt.Errorf("git clone %s: %w (stderr: %s)",
			url, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Repository targets an existing checkout. All operations run with
// "git -C <dir>"; there is no implicit working directory.
type Repository struct {
	dir string
}

// NewRepository returns a Repository for the working tree at dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Pull fast-forwards the checkout from its origin.
func (r *Repository) Pull(ctx context.Context) error {
	_, err := r.run(ctx, "pull", "--ff-only")
	return err
}

// OriginURL returns the fetch URL of the origin remote.
func (r *Repository) OriginURL(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// run executes a git command targeting this repository and returns
// stdout. Stderr is captured and folded into the error on failure.
func (r *Repository) run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
