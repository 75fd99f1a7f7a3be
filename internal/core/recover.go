// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/toeirei/keyctl/internal/audit"
	kssh "github.com/toeirei/keyctl/internal/crypto/ssh"
	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/fsutil"
	"github.com/toeirei/keyctl/internal/logging"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/security"
)

// RecoveryReport lists what Recover repaired.
type RecoveryReport struct {
	// Promoted keys had a committed record but their material was still in
	// staging.
	Promoted []string
	// Pruned revoked records were removed with their material.
	Pruned []string
	// Swept staging dirs were older than the staging TTL.
	Swept    []string
	Dangling []model.Association
	Warnings []string
}

func (r *RecoveryReport) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logging.Warnf("recover: %s", msg)
	r.Warnings = append(r.Warnings, msg)
}

// Empty reports whether nothing needed repair.
func (r *RecoveryReport) Empty() bool {
	return len(r.Promoted) == 0 && len(r.Pruned) == 0 && len(r.Swept) == 0 && len(r.Dangling) == 0
}

// Recover finishes transitions a crash interrupted. It is safe to run at any
// time and at every start: staging dirs whose transition is still running in
// some process are locked and left alone, and while any is locked revoked
// records are not pruned either.
func (m *Manager) Recover(ctx context.Context) (*RecoveryReport, error) {
	const op = "recover"
	rep := &RecoveryReport{}
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, errs.E(op, "", err)
	}

	claim := m.claimStaging(rep)
	defer claim.release()

	for _, n := range snap.KeyNames() {
		k := snap.Keys[n]
		if fsutil.Exists(k.Path) {
			continue
		}
		unlock := m.locks.lock(n)
		ok := m.rollForward(k, claim.dirs, rep)
		unlock()
		switch {
		case ok:
			rep.Promoted = append(rep.Promoted, n)
		case claim.busy:
			logging.Debugf("recover: %s may belong to a running transition", n)
		default:
			rep.warn("material of %s is missing from %s", n, k.Path)
		}
	}

	if !claim.busy {
		for name, k := range snap.Keys {
			if k.State != model.StateRevoked {
				continue
			}
			res := &Result{}
			m.prune(ctx, k, res)
			rep.Warnings = append(rep.Warnings, res.Warnings...)
			if after, err := m.snapshot(ctx); err == nil {
				if _, still := after.Keys[name]; !still {
					rep.Pruned = append(rep.Pruned, name)
				}
			}
		}
	}

	rep.Swept = m.sweepStaging(claim.dirs, rep)

	if after, err := m.snapshot(ctx); err == nil {
		rep.Dangling = after.Dangling()
	}
	for _, a := range rep.Dangling {
		rep.warn("%s %s refers to unknown key %s", a.Kind, a.Target(), a.KeyRef())
	}

	if len(rep.Promoted)+len(rep.Pruned) > 0 {
		m.record(ctx, audit.ActionRecover, strings.Join(append(rep.Promoted, rep.Pruned...), ","),
			fmt.Sprintf("promoted=%d pruned=%d swept=%d", len(rep.Promoted), len(rep.Pruned), len(rep.Swept)))
	}
	return rep, nil
}

// stagingClaim holds the locks of staging dirs left behind by transitions
// that are no longer running.
type stagingClaim struct {
	dirs  []string
	locks []*flock.Flock
	// busy is set when some staging dir is locked by a running transition.
	busy bool
}

// claimStaging locks every abandoned staging dir.
func (m *Manager) claimStaging(rep *RecoveryReport) *stagingClaim {
	c := &stagingClaim{}
	root := m.stagingRoot()
	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			rep.warn("read %s: %v", root, err)
		}
		return c
	}
	for _, d := range entries {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(root, d.Name())
		l := flock.New(dir + lockSuffix)
		ok, err := l.TryLock()
		if err != nil || !ok {
			c.busy = true
			continue
		}
		c.dirs = append(c.dirs, dir)
		c.locks = append(c.locks, l)
	}
	return c
}

func (c *stagingClaim) release() {
	for _, l := range c.locks {
		_ = l.Unlock()
		if !fsutil.Exists(strings.TrimSuffix(l.Path(), lockSuffix)) {
			_ = os.Remove(l.Path())
		}
	}
}

// rollForward looks for k's material in the claimed staging dirs, as staged
// new material or as displaced live material, and moves it into place when
// its fingerprint matches the record.
func (m *Manager) rollForward(k model.Key, dirs []string, rep *RecoveryReport) bool {
	base := filepath.Base(k.Path)
	for _, dir := range dirs {
		for _, cand := range []string{base, displacedPrefix + base} {
			src := filepath.Join(dir, cand)
			if !fsutil.Exists(src) || !matches(src+".pub", k.Fingerprint) {
				continue
			}
			if err := security.FixPermissions(src); err != nil {
				rep.warn("%s: %v", src, err)
				continue
			}
			if err := promote(src, k.Path); err != nil {
				rep.warn("could not restore %s: %v", k.Name, err)
				continue
			}
			logging.Infof("recover: moved %s into place", k.Name)
			return true
		}
	}
	return false
}

func matches(pubPath, fingerprint string) bool {
	data, err := os.ReadFile(pubPath)
	if err != nil {
		return false
	}
	info, err := kssh.ParsePublicKey(data)
	return err == nil && info.Fingerprint == fingerprint
}

// sweepStaging wipes claimed staging dirs older than the staging TTL.
func (m *Manager) sweepStaging(dirs []string, rep *RecoveryReport) []string {
	cutoff := m.now().Add(-m.opts.StagingTTL)
	var swept []string
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := security.WipeDir(dir); err != nil {
			rep.warn("sweep %s: %v", dir, err)
			continue
		}
		swept = append(swept, filepath.Base(dir))
	}
	return swept
}

// Dangling reports associations whose key no longer resolves.
func (m *Manager) Dangling(ctx context.Context) ([]model.Association, error) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, errs.E("check", "", err)
	}
	return snap.Dangling(), nil
}

