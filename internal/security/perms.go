// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
)

// Modes applied to key material.
const (
	PrivateMode fs.FileMode = 0o600
	PublicMode  fs.FileMode = 0o644
	DirMode     fs.FileMode = 0o700
)

// FixPermissions sets the private key to 0600 and, when present, the public
// key next to it to 0644.
func FixPermissions(privPath string) error {
	if err := os.Chmod(privPath, PrivateMode); err != nil {
		return fmt.Errorf("chmod %s: %w", privPath, err)
	}
	pub := privPath + ".pub"
	if err := os.Chmod(pub, PublicMode); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("chmod %s: %w", pub, err)
	}
	return nil
}

// EnsureDir creates dir with mode 0700, tightening an existing one.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(dir, DirMode)
}

// Excess returns the group/other bits of mode. Windows does not carry unix
// permission bits, so nothing is reported there.
func Excess(mode fs.FileMode) fs.FileMode {
	if runtime.GOOS == "windows" {
		return 0
	}
	return mode.Perm() & 0o077
}

// Mode returns the permission bits of path.
func Mode(path string) (fs.FileMode, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Mode().Perm(), nil
}
