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
	"time"

	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/security"
	"github.com/toeirei/keyctl/internal/state"
)

// KeyInfo is a read-only view of one managed key.
type KeyInfo struct {
	Key          model.Key
	State        model.KeyState
	Mode         fs.FileMode
	Usage        model.UsageRecord
	Associations []model.Association
	// Missing is set when the private key file is gone.
	Missing bool
}

func (m *Manager) info(s *state.Snapshot, k model.Key, now time.Time) KeyInfo {
	ki := KeyInfo{
		Key:          k,
		State:        k.EffectiveState(now, m.opts.WarningWindow),
		Usage:        s.Usage[k.Name],
		Associations: s.References(k.Name),
	}
	mode, err := security.Mode(k.Path)
	if err != nil {
		ki.Missing = true
	} else {
		ki.Mode = mode
	}
	return ki
}

// List returns every live key, sorted by name.
func (m *Manager) List(ctx context.Context) ([]KeyInfo, error) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, errs.E("list", "", err)
	}
	now := m.now()
	out := make([]KeyInfo, 0, len(snap.Keys))
	for _, n := range snap.KeyNames() {
		out = append(out, m.info(snap, snap.Keys[n], now))
	}
	return out, nil
}

// Get returns one key by name or lineage.
func (m *Manager) Get(ctx context.Context, name string) (KeyInfo, error) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return KeyInfo{}, errs.E("show", name, err)
	}
	k, ok := resolve(snap, name)
	if !ok {
		return KeyInfo{}, errs.E("show", name, errs.ErrNotFound)
	}
	return m.info(snap, k, m.now()), nil
}

// PublicKey returns the authorized_keys line of a key.
func (m *Manager) PublicKey(ctx context.Context, name string) ([]byte, error) {
	ki, err := m.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	pub, err := os.ReadFile(ki.Key.PublicPath())
	if err != nil {
		return nil, errs.E("show", ki.Key.Name, fmt.Errorf("%w: %w", errs.ErrIOFault, err))
	}
	return pub, nil
}

// Analysis is the analyzer verdict for one key.
type Analysis struct {
	Name   string
	Report security.Report
	Err    error
}

// Analyze assesses the named keys, or all keys when names is empty. A key
// whose material cannot be read reports Err instead of failing the batch.
func (m *Manager) Analyze(ctx context.Context, names ...string) ([]Analysis, error) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, errs.E("analyze", "", err)
	}
	if len(names) == 0 {
		names = snap.KeyNames()
	}
	out := make([]Analysis, 0, len(names))
	for _, n := range names {
		k, ok := resolve(snap, n)
		if !ok {
			return nil, errs.E("analyze", n, errs.ErrNotFound)
		}
		a := Analysis{Name: k.Name}
		meta, err := security.Inspect(k.Path)
		if err != nil {
			a.Err = fmt.Errorf("%w: %w", errs.ErrIOFault, err)
		} else {
			a.Report = security.Assess(k, meta)
		}
		out = append(out, a)
	}
	return out, nil
}

// Stats returns usage records for the named key, or for all keys.
func (m *Manager) Stats(ctx context.Context, name string) ([]model.UsageRecord, error) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, errs.E("stats", name, err)
	}
	names := snap.KeyNames()
	if name != "" {
		k, ok := resolve(snap, name)
		if !ok {
			return nil, errs.E("stats", name, errs.ErrNotFound)
		}
		names = []string{k.Name}
	}
	out := make([]model.UsageRecord, 0, len(names))
	for _, n := range names {
		u, ok := snap.Usage[n]
		if !ok {
			u = model.UsageRecord{KeyRef: n, FirstUsed: snap.Keys[n].CreatedAt}
		}
		out = append(out, u)
	}
	return out, nil
}

// RecordUse bumps the usage counter of a key.
func (m *Manager) RecordUse(ctx context.Context, name string) error {
	now := m.now()
	err := m.update(ctx, func(s *state.Snapshot) error {
		k, ok := resolve(s, name)
		if !ok {
			return errs.ErrNotFound
		}
		u, ok := s.Usage[k.Name]
		if !ok {
			u = model.UsageRecord{KeyRef: k.Name, FirstUsed: k.CreatedAt}
		}
		u.UseCount++
		u.LastUsedAt = &now
		s.Usage[k.Name] = u
		return nil
	})
	return errs.E("use", name, err)
}

// recordUse is RecordUse for code paths where the use already happened.
func (m *Manager) recordUse(ctx context.Context, name string, res *Result) {
	if err := m.RecordUse(ctx, name); err != nil {
		res.warn("usage of %s not recorded: %v", name, err)
	}
}

// LoadIntoAgent hands a key to an ssh-agent. keyPass decrypts an encrypted
// private key; a zero lifetime keeps it until removed.
func (m *Manager) LoadIntoAgent(ctx context.Context, a Agent, name string, keyPass security.Secret, lifetime time.Duration) (*Result, error) {
	const op = "agent add"
	ki, err := m.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	res := &Result{Key: ki.Key}
	if ki.State == model.StateExpired {
		res.warn("%s expired on %s", ki.Key.Name, ki.Key.ExpiresAt.Format(time.DateOnly))
	}
	priv, err := os.ReadFile(ki.Key.Path)
	if err != nil {
		return nil, errs.E(op, ki.Key.Name, fmt.Errorf("%w: %w", errs.ErrIOFault, err))
	}
	defer security.Wipe(priv)
	comment := ki.Key.Comment
	if comment == "" {
		comment = ki.Key.Name
	}
	if err := a.Add(priv, keyPass.Bytes(), comment, lifetime); err != nil {
		return nil, errs.E(op, ki.Key.Name, err)
	}
	m.recordUse(ctx, ki.Key.Name, res)
	return res, nil
}

// RemoveFromAgent drops a key from an ssh-agent.
func (m *Manager) RemoveFromAgent(ctx context.Context, a Agent, name string) error {
	pub, err := m.PublicKey(ctx, name)
	if err != nil {
		return err
	}
	return errs.E("agent remove", name, a.Remove(pub))
}

// ValidateProvider checks that host accepts a key and returns the
// provider's greeting.
func (m *Manager) ValidateProvider(ctx context.Context, host, name string) (string, *Result, error) {
	const op = "validate"
	if m.val == nil {
		return "", nil, errs.E(op, name, errors.New("provider validation disabled"))
	}
	ki, err := m.Get(ctx, name)
	if err != nil {
		return "", nil, err
	}
	res := &Result{Key: ki.Key}
	out, err := m.val.Validate(ctx, host, ki.Key.Path)
	if err != nil {
		return out, nil, errs.E(op, ki.Key.Name, err)
	}
	m.recordUse(ctx, ki.Key.Name, res)
	return out, res, nil
}
