// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrOverwriteFailed marks a wipe whose random overwrite failed. The file was
// still removed.
var ErrOverwriteFailed = errors.New("secure overwrite failed")

// overwriteFile is overridable in tests.
var overwriteFile = overwrite

// WipeFile overwrites path with random bytes, fsyncs, then removes it. A
// missing file is not an error. If the overwrite fails the file is removed
// anyway and the returned error wraps ErrOverwriteFailed.
func WipeFile(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	var owErr error
	if fi.Mode().IsRegular() {
		owErr = overwriteFile(path, fi.Size())
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if owErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrOverwriteFailed, path, owErr)
	}
	return nil
}

func overwrite(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(f, rand.Reader, size); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WipeDir wipes every regular file below dir and removes the tree. Overwrite
// failures are collected; the tree is removed regardless.
func WipeDir(dir string) error {
	var failures []error
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			if err := WipeFile(p); err != nil {
				failures = append(failures, err)
			}
		}
		return nil
	})
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	if walkErr != nil {
		failures = append(failures, walkErr)
	}
	return errors.Join(failures...)
}
