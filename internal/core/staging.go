// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	gonanoid "github.com/matoous/go-nanoid/v2"
	kssh "github.com/toeirei/keyctl/internal/crypto/ssh"
	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/fsutil"
	"github.com/toeirei/keyctl/internal/logging"
	"github.com/toeirei/keyctl/internal/security"
)

// stagingDirName lives inside the ssh dir so promotion is a same-filesystem
// rename.
const stagingDirName = ".keyctl-staging"

// displacedPrefix names live material moved aside during a replacement.
const displacedPrefix = "displaced-"

// lockSuffix names the file held locked next to a staging dir while its
// transition runs. Recover leaves locked dirs alone.
const lockSuffix = ".lock"

// staging is a private scratch directory for one transition.
type staging struct {
	dir  string
	lock *flock.Flock
}

func (m *Manager) stagingRoot() string { return filepath.Join(m.opts.SSHDir, stagingDirName) }

func (m *Manager) newStaging() (*staging, error) {
	root := m.stagingRoot()
	if err := security.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIOFault, err)
	}
	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("%w: staging id: %w", errs.ErrIOFault, err)
	}
	dir := filepath.Join(root, id)
	lock := flock.New(dir + lockSuffix)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: lock staging dir: %w", errs.ErrIOFault, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: staging dir %s is in use", errs.ErrIOFault, id)
	}
	s := &staging{dir: dir, lock: lock}
	if err := os.Mkdir(dir, security.DirMode); err != nil {
		s.release()
		return nil, fmt.Errorf("%w: %w", errs.ErrIOFault, err)
	}
	return s, nil
}

func (s *staging) path(name string) string { return filepath.Join(s.dir, name) }

// discard securely erases everything staged and ends the transition.
func (s *staging) discard() {
	if err := security.WipeDir(s.dir); err != nil {
		logging.Warnf("staging: wipe %s: %v", s.dir, err)
	}
	s.release()
}

// release drops the in-flight marker without touching the staged files.
func (s *staging) release() {
	if err := s.lock.Unlock(); err != nil {
		logging.Debugf("staging: unlock %s: %v", s.lock.Path(), err)
	}
	_ = os.Remove(s.lock.Path())
}

// promote is overridable in tests.
var promote = promoteFiles

// promoteFiles moves a private key and its .pub from src to dst. It refuses
// to replace other material; a destination that already holds the same key
// counts as promoted. On a failed public move the private key is moved back.
func promoteFiles(src, dst string) error {
	if fsutil.Exists(dst) || fsutil.Exists(dst+".pub") {
		if fsutil.Exists(dst) && samePublicKey(src+".pub", dst+".pub") {
			logging.Debugf("staging: %s already in place", filepath.Base(dst))
			return nil
		}
		return fmt.Errorf("%w: %s already exists", errs.ErrIOFault, dst)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("%w: move %s: %w", errs.ErrIOFault, filepath.Base(dst), err)
	}
	if err := os.Rename(src+".pub", dst+".pub"); err != nil {
		if back := os.Rename(dst, src); back != nil {
			logging.Errorf("staging: could not move %s back: %v", dst, back)
		}
		return fmt.Errorf("%w: move %s.pub: %w", errs.ErrIOFault, filepath.Base(dst), err)
	}
	return nil
}

func samePublicKey(a, b string) bool {
	da, err := os.ReadFile(a)
	if err != nil {
		return false
	}
	ia, err := kssh.ParsePublicKey(da)
	if err != nil {
		return false
	}
	return matches(b, ia.Fingerprint)
}

// displace moves live material at path into the staging dir so a
// replacement can be promoted. restore reverses it.
func (s *staging) displace(path string) (restore func() error, err error) {
	aside := s.path(displacedPrefix + filepath.Base(path))
	var moved []string
	for _, suffix := range []string{"", ".pub"} {
		err := os.Rename(path+suffix, aside+suffix)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			for _, sfx := range moved {
				_ = os.Rename(aside+sfx, path+sfx)
			}
			return nil, fmt.Errorf("%w: move aside %s: %w", errs.ErrIOFault, path+suffix, err)
		}
		moved = append(moved, suffix)
	}
	return func() error {
		var errList []error
		for _, sfx := range moved {
			if err := os.Rename(aside+sfx, path+sfx); err != nil {
				errList = append(errList, err)
			}
		}
		return errors.Join(errList...)
	}, nil
}

// wipeMaterial securely deletes a private key and its public half. The
// returned error wraps security.ErrOverwriteFailed when only the overwrite
// failed.
func wipeMaterial(path string) error {
	return errors.Join(security.WipeFile(path), security.WipeFile(path+".pub"))
}
