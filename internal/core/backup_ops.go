// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/toeirei/keyctl/internal/audit"
	"github.com/toeirei/keyctl/internal/backup"
	kssh "github.com/toeirei/keyctl/internal/crypto/ssh"
	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/fsutil"
	"github.com/toeirei/keyctl/internal/logging"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/security"
	"github.com/toeirei/keyctl/internal/state"
)

// Backup snapshots the named keys, or every live key when names is empty.
func (m *Manager) Backup(ctx context.Context, names ...string) (*model.BackupManifest, string, error) {
	const op = "backup"
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, "", errs.E(op, "", err)
	}
	if len(names) == 0 {
		names = snap.KeyNames()
	}
	keys := make([]model.Key, 0, len(names))
	var taken []string
	for _, n := range names {
		k, ok := resolve(snap, n)
		if !ok {
			return nil, "", errs.E(op, n, errs.ErrNotFound)
		}
		// A lineage name and the current name resolve to the same key.
		if slices.Contains(taken, k.Name) {
			continue
		}
		keys = append(keys, k)
		taken = append(taken, k.Name)
	}
	manifest, path, err := m.backups.Snapshot(ctx, keys)
	if err != nil {
		return nil, "", errs.E(op, "", err)
	}
	m.record(ctx, audit.ActionBackup, strings.Join(taken, ","), "manifest="+path)
	return manifest, path, nil
}

// ListBackups returns committed snapshots, oldest first.
func (m *Manager) ListBackups() ([]backup.Listing, error) {
	l, err := m.backups.List()
	return l, errs.E("backup list", "", err)
}

// RestoreOptions controls Restore.
type RestoreOptions struct {
	// Overwrite replaces existing keys of the same name, backing them up
	// first. Without it any name collision aborts the restore.
	Overwrite bool
}

// restoreItem is one key of a restore in flight.
type restoreItem struct {
	key      model.Key
	staged   string
	existing *model.Key
	onDisk   bool
	same     bool
	restore  func() error
}

// Restore verifies a snapshot and brings its keys back under their original
// names in one batch. Keys already present with the same fingerprint are
// left alone, so restoring the same snapshot twice is a no-op the second
// time.
func (m *Manager) Restore(ctx context.Context, manifestPath string, opts RestoreOptions) (*Result, error) {
	const op = "restore"
	set, err := m.backups.Restore(ctx, manifestPath)
	if err != nil {
		return nil, errs.E(op, "", err)
	}
	defer set.Zero()

	var names []string
	for _, rk := range set.Keys {
		if err := ValidateName(rk.Key.Name); err != nil {
			return nil, errs.E(op, rk.Key.Name, fmt.Errorf("%w: %w", errs.ErrTampered, err))
		}
		if slices.Contains(names, rk.Key.Name) {
			return nil, errs.E(op, rk.Key.Name, fmt.Errorf("%w: key listed twice", errs.ErrTampered))
		}
		names = append(names, rk.Key.Name)
	}
	// Sorted, so concurrent restores take the key locks in the same order.
	slices.Sort(names)
	for _, n := range names {
		unlock := m.locks.lock(n)
		defer unlock()
	}

	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, errs.E(op, "", err)
	}

	res := &Result{}
	items := make([]*restoreItem, 0, len(set.Keys))
	var displacedKeys []model.Key
	for _, rk := range set.Keys {
		it := &restoreItem{key: rk.Key}
		it.key.Path = m.keyPath(rk.Key.Name)
		it.key.State = model.StateActive
		it.key.ReplacedBy = ""
		if cur, ok := snap.Keys[rk.Key.Name]; ok {
			c := cur
			it.existing = &c
		}
		it.onDisk = fsutil.Exists(it.key.Path) || fsutil.Exists(it.key.Path+".pub")
		if it.existing != nil && it.existing.State != model.StateRevoked && it.existing.Fingerprint == rk.Key.Fingerprint && it.onDisk {
			it.same = true
			res.warn("%s is already current, skipped", rk.Key.Name)
			items = append(items, it)
			continue
		}
		if (it.existing != nil || it.onDisk) && !opts.Overwrite {
			return nil, errs.E(op, rk.Key.Name, errs.ErrNameCollision)
		}
		// Unmanaged files are never replaced; there is nothing to back them up as.
		if it.existing == nil && it.onDisk {
			return nil, errs.E(op, rk.Key.Name, fmt.Errorf("%w: %s exists but is not managed", errs.ErrNameCollision, it.key.Path))
		}
		if it.existing != nil && it.existing.State != model.StateRevoked && it.onDisk {
			displacedKeys = append(displacedKeys, *it.existing)
		}
		items = append(items, it)
	}
	if allSame(items) {
		return res, nil
	}

	stage, err := m.newStaging()
	if err != nil {
		return nil, errs.E(op, "", err)
	}
	defer stage.discard()

	for i, rk := range set.Keys {
		it := items[i]
		if it.same {
			continue
		}
		it.staged = stage.path(rk.Key.Name)
		if err := writeStaged(it.staged, rk); err != nil {
			return nil, errs.E(op, rk.Key.Name, err)
		}
		fp, err := m.admit(it.staged, rk.Key.Type, res, true)
		if err != nil {
			return nil, errs.E(op, rk.Key.Name, err)
		}
		if fp != rk.Key.Fingerprint {
			return nil, errs.E(op, rk.Key.Name, fmt.Errorf("%w: restored material does not match its fingerprint", errs.ErrTampered))
		}
	}

	// Material being replaced is backed up again before it goes.
	if len(displacedKeys) > 0 {
		_, p, err := m.backups.Snapshot(ctx, displacedKeys)
		if err != nil {
			return nil, errs.E(op, "", err)
		}
		res.BackupPath = p
	}
	committed := false
	defer func() {
		if !committed {
			dropBackup(res.BackupPath)
		}
	}()

	now := m.now()
	err = m.update(ctx, func(s *state.Snapshot) error {
		for _, it := range items {
			if it.same {
				continue
			}
			cur, exists := s.Keys[it.key.Name]
			switch {
			case it.existing == nil && exists:
				return fmt.Errorf("%w: %s appeared during restore", errs.ErrConflict, it.key.Name)
			case it.existing != nil && (!exists || cur.Fingerprint != it.existing.Fingerprint):
				return fmt.Errorf("%w: %s changed during restore", errs.ErrConflict, it.key.Name)
			}
			s.Keys[it.key.Name] = it.key
			u, ok := s.Usage[it.key.Name]
			if !ok || it.existing == nil {
				u = model.UsageRecord{KeyRef: it.key.Name, FirstUsed: now}
			}
			s.Usage[it.key.Name] = u
		}
		return nil
	})
	if err != nil {
		return nil, errs.E(op, "", err)
	}

	for _, it := range items {
		if it.same {
			continue
		}
		if it.onDisk {
			back, err := stage.displace(it.key.Path)
			if err != nil {
				m.undoRestore(ctx, items)
				return nil, errs.E(op, it.key.Name, err)
			}
			it.restore = back
		}
		if err := promote(it.staged, it.key.Path); err != nil {
			m.unpromote(items)
			m.undoRestore(ctx, items)
			return nil, errs.E(op, it.key.Name, err)
		}
	}
	committed = true

	var restored []string
	var refs []model.Association
	after, err := m.snapshot(ctx)
	for _, it := range items {
		if it.same {
			continue
		}
		restored = append(restored, it.key.Name)
		if err == nil {
			refs = append(refs, after.References(it.key.Name)...)
		}
		res.Key = it.key
	}
	m.syncAssociations(ctx, refs, res)

	logging.Infof("restored %d key(s) from %s", len(restored), manifestPath)
	m.record(ctx, audit.ActionRestore, strings.Join(restored, ","), "manifest="+manifestPath)
	res.Affected = refs
	return res, nil
}

func allSame(items []*restoreItem) bool {
	for _, it := range items {
		if !it.same {
			return false
		}
	}
	return true
}

// writeStaged writes restored material with owner-only permissions.
func writeStaged(path string, rk backup.RestoredKey) error {
	if err := os.WriteFile(path, rk.Private, security.PrivateMode); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFault, err)
	}
	if err := os.WriteFile(path+".pub", rk.Public, security.PublicMode); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFault, err)
	}
	info, err := kssh.ParsePublicKey(rk.Public)
	if err != nil || info.Fingerprint != rk.Key.Fingerprint {
		return fmt.Errorf("%w: public key of %s does not match manifest", errs.ErrTampered, rk.Key.Name)
	}
	return nil
}

// unpromote moves promoted material back to staging and puts displaced
// material back in place.
func (m *Manager) unpromote(items []*restoreItem) {
	for _, it := range items {
		if it.same || it.staged == "" {
			continue
		}
		if fsutil.Exists(it.key.Path) && !fsutil.Exists(it.staged) {
			_ = os.Rename(it.key.Path, it.staged)
			_ = os.Rename(it.key.Path+".pub", it.staged+".pub")
		}
		if it.restore != nil {
			if err := it.restore(); err != nil {
				logging.Errorf("restore: could not put %s back: %v", it.key.Path, err)
			}
		}
	}
}

// undoRestore puts the records replaced by a restore batch back.
func (m *Manager) undoRestore(ctx context.Context, items []*restoreItem) {
	err := m.update(ctx, func(s *state.Snapshot) error {
		for _, it := range items {
			if it.same {
				continue
			}
			cur, ok := s.Keys[it.key.Name]
			if !ok || cur.Fingerprint != it.key.Fingerprint {
				continue
			}
			if it.existing != nil {
				s.Keys[it.key.Name] = *it.existing
			} else {
				delete(s.Keys, it.key.Name)
				delete(s.Usage, it.key.Name)
			}
		}
		return nil
	})
	if err != nil {
		logging.Errorf("restore: compensation failed, run recover: %v", err)
	}
}
