// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/toeirei/keyctl/internal/audit"
	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/state"
)

// ExpiryStatus classifies one key at query time.
type ExpiryStatus struct {
	Name      string
	State     model.KeyState
	ExpiresAt *time.Time
	// Remaining is negative once the key has expired.
	Remaining time.Duration
}

// SetExpiry sets the key to expire days from now.
func (m *Manager) SetExpiry(ctx context.Context, name string, days int) (*Result, error) {
	const op = "expire set"
	if err := ValidateExpiryDays(days); err != nil {
		return nil, errs.E(op, name, err)
	}
	now := m.now()
	var out model.Key
	err := m.update(ctx, func(s *state.Snapshot) error {
		k, ok := resolve(s, name)
		if !ok {
			return errs.ErrNotFound
		}
		setExpiry(&k, now, days)
		s.Keys[k.Name] = k
		out = k
		return nil
	})
	if err != nil {
		return nil, errs.E(op, name, err)
	}
	m.record(ctx, audit.ActionExpirySet, out.Name, fmt.Sprintf("days=%d expires=%s", days, out.ExpiresAt.Format(time.RFC3339)))
	return &Result{Key: out}, nil
}

// RemoveExpiry clears the expiry of a key.
func (m *Manager) RemoveExpiry(ctx context.Context, name string) (*Result, error) {
	const op = "expire remove"
	var out model.Key
	err := m.update(ctx, func(s *state.Snapshot) error {
		k, ok := resolve(s, name)
		if !ok {
			return errs.ErrNotFound
		}
		k.ExpiresAt = nil
		k.ExpiryDays = 0
		s.Keys[k.Name] = k
		out = k
		return nil
	})
	if err != nil {
		return nil, errs.E(op, name, err)
	}
	m.record(ctx, audit.ActionExpiryRemove, out.Name, "")
	return &Result{Key: out}, nil
}

// CheckExpiry classifies every key as Active, Expiring or Expired. It only
// reads; expiry is advisory and never blocks use of a key.
func (m *Manager) CheckExpiry(ctx context.Context) ([]ExpiryStatus, error) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, errs.E("expire check", "", err)
	}
	return m.expiryStatuses(snap), nil
}

func (m *Manager) expiryStatuses(s *state.Snapshot) []ExpiryStatus {
	now := m.now()
	out := make([]ExpiryStatus, 0, len(s.Keys))
	for _, name := range s.KeyNames() {
		k := s.Keys[name]
		st := ExpiryStatus{Name: name, State: k.EffectiveState(now, m.opts.WarningWindow), ExpiresAt: k.ExpiresAt}
		if k.ExpiresAt != nil {
			st.Remaining = k.ExpiresAt.Sub(now)
		}
		out = append(out, st)
	}
	return out
}
