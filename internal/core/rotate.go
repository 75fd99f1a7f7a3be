// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/toeirei/keyctl/internal/audit"
	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/fsutil"
	"github.com/toeirei/keyctl/internal/keygen"
	"github.com/toeirei/keyctl/internal/logging"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/registry"
	"github.com/toeirei/keyctl/internal/security"
	"github.com/toeirei/keyctl/internal/state"
)

// RotateRequest names the key to replace. Passphrase protects the new
// private key.
type RotateRequest struct {
	Name       string
	Passphrase security.Secret
}

// Rotate replaces a key with fresh material under a new name. The new record,
// the re-pointed references and the revocation of the old record commit as
// one batch; the old material is backed up before and erased after.
func (m *Manager) Rotate(ctx context.Context, req RotateRequest) (*Result, error) {
	const op = "rotate"
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, errs.E(op, req.Name, err)
	}
	old, ok := resolve(snap, req.Name)
	if !ok {
		return nil, errs.E(op, req.Name, errs.ErrNotFound)
	}

	unlock := m.locks.lock(old.Name)
	defer unlock()

	res := &Result{}
	// Pre-existing material only warns; it is about to be replaced.
	if meta, err := security.Inspect(old.Path); err != nil {
		res.warn("cannot inspect %s: %v", old.Path, err)
	} else {
		for _, f := range security.Assess(old, meta).Findings {
			if f.Severity >= security.SeverityWeak {
				res.warn("%s (current key): %s", f.Severity, f.Message)
			}
		}
	}

	newName := m.rotatedName(snap, old)
	stage, err := m.newStaging()
	if err != nil {
		return nil, errs.E(op, old.Name, err)
	}
	defer stage.discard()

	staged := stage.path(newName)
	if err := m.generate(ctx, keygen.Request{
		Name: newName, Type: old.Type, Bits: old.Bits, Comment: old.Comment,
		Passphrase: req.Passphrase, Dir: stage.dir,
	}); err != nil {
		return nil, errs.E(op, old.Name, err)
	}
	fp, err := m.admit(staged, old.Type, res, true)
	if err != nil {
		return nil, errs.E(op, old.Name, err)
	}
	if fp == old.Fingerprint {
		return nil, errs.E(op, old.Name, fmt.Errorf("%w: generator returned the existing key", errs.ErrGenerationFailed))
	}

	_, manifestPath, err := m.backups.Snapshot(ctx, []model.Key{old})
	if err != nil {
		return nil, errs.E(op, old.Name, err)
	}
	committed := false
	defer func() {
		if !committed {
			dropBackup(manifestPath)
		}
	}()

	now := m.now()
	lineage := old.Lineage
	if lineage == "" {
		lineage = old.Name
	}
	next := model.Key{
		Name:        newName,
		Type:        old.Type,
		Bits:        old.Bits,
		Fingerprint: fp,
		Comment:     old.Comment,
		Path:        m.keyPath(newName),
		Encrypted:   !req.Passphrase.Empty(),
		CreatedAt:   now,
		State:       model.StateActive,
		Lineage:     lineage,
		Generation:  old.Generation + 1,
	}
	if old.ExpiryDays > 0 {
		setExpiry(&next, now, old.ExpiryDays)
	}

	var moved []model.Association
	err = m.update(ctx, func(s *state.Snapshot) error {
		cur, ok := s.Resolve(old.Name)
		if !ok || cur.Fingerprint != old.Fingerprint {
			return fmt.Errorf("%w: %s changed during rotation", errs.ErrConflict, old.Name)
		}
		if _, taken := s.Keys[newName]; taken {
			return fmt.Errorf("%w: %s appeared during rotation", errs.ErrConflict, newName)
		}
		s.Keys[newName] = next
		s.Usage[newName] = model.UsageRecord{KeyRef: newName, FirstUsed: now}
		moved = registry.Repoint(s, old.Name, newName)
		cur.State = model.StateRevoked
		cur.ReplacedBy = newName
		s.Keys[old.Name] = cur
		return nil
	})
	if err != nil {
		return nil, errs.E(op, old.Name, err)
	}

	if err := promote(staged, next.Path); err != nil {
		m.undoRotate(ctx, old, next)
		return nil, errs.E(op, old.Name, err)
	}
	committed = true

	m.prune(ctx, old, res)
	m.syncAssociations(ctx, moved, res)

	logging.Infof("rotated %s -> %s (%s -> %s)", old.Name, next.Name, old.Fingerprint, next.Fingerprint)
	m.record(ctx, audit.ActionRotate, old.Name, fmt.Sprintf("new=%s fingerprint=%s repointed=%d backup=%s", next.Name, next.Fingerprint, len(moved), manifestPath))

	prev := old
	prev.State = model.StateRevoked
	prev.ReplacedBy = next.Name
	res.Key = next
	res.Previous = &prev
	res.Affected = moved
	res.BackupPath = manifestPath
	return res, nil
}

// rotatedName picks <lineage>-rotated-<n>, skipping names in use.
func (m *Manager) rotatedName(s *state.Snapshot, old model.Key) string {
	base := old.Lineage
	if base == "" {
		base = old.Name
	}
	for gen := old.Generation + 1; ; gen++ {
		cand := fmt.Sprintf("%s-rotated-%d", base, gen)
		if _, taken := s.Keys[cand]; taken {
			continue
		}
		if p := m.keyPath(cand); fsutil.Exists(p) || fsutil.Exists(p+".pub") {
			continue
		}
		return cand
	}
}

// undoRotate reverses a committed rotation batch whose material could not be
// promoted.
func (m *Manager) undoRotate(ctx context.Context, old, next model.Key) {
	err := m.update(ctx, func(s *state.Snapshot) error {
		cur, ok := s.Keys[next.Name]
		if !ok || cur.Fingerprint != next.Fingerprint {
			return nil
		}
		registry.Repoint(s, next.Name, old.Name)
		delete(s.Keys, next.Name)
		delete(s.Usage, next.Name)
		if o, ok := s.Keys[old.Name]; ok {
			o.State = model.StateActive
			o.ReplacedBy = ""
			s.Keys[old.Name] = o
		}
		return nil
	})
	if err != nil {
		logging.Errorf("rotate %s: compensation failed, run recover: %v", old.Name, err)
	}
}

// prune erases revoked material and drops the revoked record. Failures are
// warnings: the record stays Revoked and Recover finishes the job.
func (m *Manager) prune(ctx context.Context, old model.Key, res *Result) {
	if err := wipeMaterial(old.Path); err != nil {
		if errors.Is(err, security.ErrOverwriteFailed) {
			res.warn("%s removed but not securely overwritten: %v", old.Path, err)
		} else {
			res.warn("could not remove %s: %v", old.Path, err)
			return
		}
	}
	err := m.update(ctx, func(s *state.Snapshot) error {
		if k, ok := s.Keys[old.Name]; ok && k.State == model.StateRevoked && k.Fingerprint == old.Fingerprint {
			delete(s.Keys, old.Name)
			delete(s.Usage, old.Name)
		}
		return nil
	})
	if err != nil {
		res.warn("revoked record %s kept until recover: %v", old.Name, err)
	}
}

// dropBackup removes a snapshot taken for a transition that did not commit.
func dropBackup(manifestPath string) {
	if manifestPath == "" {
		return
	}
	dir := filepath.Dir(manifestPath)
	if err := os.RemoveAll(dir); err != nil {
		logging.Warnf("backup: could not remove uncommitted snapshot %s: %v", dir, err)
	}
}
