// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest over an adapters tree. Two trees
// with identical sorted relative paths and file contents hash equal;
// anything else (new file, removed file, rename, edit) changes it.
type Hash [32]byte

// String returns the lowercase hex form of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// HashTree computes the content hash of the tree rooted at root. The
// walk order is lexical, so the digest is deterministic. Each file
// contributes its root-relative path, a NUL separator, and its
// contents. A missing root hashes the same as an empty tree.
func HashTree(root string) (Hash, error) {
	hasher := blake3.New()

	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return sum(hasher), nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hasher.Write([]byte(rel))
		hasher.Write([]byte{0})

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(hasher, f)
		f.Close()
		return err
	})
	if err != nil {
		return Hash{}, fmt.Errorf("hashing %s: %w", root, err)
	}

	return sum(hasher), nil
}

func sum(hasher *blake3.Hasher) Hash {
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}
