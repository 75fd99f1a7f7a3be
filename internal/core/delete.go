// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/toeirei/keyctl/internal/audit"
	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/logging"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/registry"
	"github.com/toeirei/keyctl/internal/security"
	"github.com/toeirei/keyctl/internal/state"
)

// DeleteOptions controls Delete. Cascade removes references in the same
// batch instead of refusing.
type DeleteOptions struct {
	Cascade bool
}

// Delete backs up, removes and securely erases a key. Without Cascade a key
// that is still referenced fails with ErrInUse and nothing is written.
func (m *Manager) Delete(ctx context.Context, name string, opts DeleteOptions) (*Result, error) {
	const op = "delete"
	unlock := m.locks.lock(name)
	defer unlock()

	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, errs.E(op, name, err)
	}
	key, ok := snap.Resolve(name)
	if !ok {
		return nil, errs.E(op, name, errs.ErrNotFound)
	}
	if refs := snap.References(name); len(refs) > 0 && !opts.Cascade {
		return nil, errs.E(op, name, inUse(refs))
	}

	_, manifestPath, err := m.backups.Snapshot(ctx, []model.Key{key})
	if err != nil {
		return nil, errs.E(op, name, err)
	}

	var detached []model.Association
	err = m.update(ctx, func(s *state.Snapshot) error {
		cur, ok := s.Resolve(name)
		if !ok || cur.Fingerprint != key.Fingerprint {
			return fmt.Errorf("%w: %s changed during delete", errs.ErrConflict, name)
		}
		if refs := s.References(name); len(refs) > 0 && !opts.Cascade {
			return inUse(refs)
		}
		detached = registry.Detach(s, name)
		delete(s.Keys, name)
		delete(s.Usage, name)
		return nil
	})
	if err != nil {
		dropBackup(manifestPath)
		return nil, errs.E(op, name, err)
	}

	res := &Result{Key: key, Affected: detached, BackupPath: manifestPath}
	if err := wipeMaterial(key.Path); err != nil {
		if errors.Is(err, security.ErrOverwriteFailed) {
			res.warn("%s removed but not securely overwritten: %v", key.Path, err)
		} else {
			res.warn("could not remove %s: %v", key.Path, err)
		}
	}
	m.detachAssociations(ctx, detached, res)

	logging.Infof("deleted key %s (%s)", name, key.Fingerprint)
	m.record(ctx, audit.ActionDelete, name, fmt.Sprintf("fingerprint=%s detached=%d backup=%s", key.Fingerprint, len(detached), manifestPath))
	return res, nil
}

func inUse(refs []model.Association) error {
	return fmt.Errorf("%w: referenced by %d association(s), first %s %s", errs.ErrInUse, len(refs), refs[0].Kind, refs[0].Target())
}
