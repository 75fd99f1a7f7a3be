// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/toeirei/keyctl/internal/audit"
	kssh "github.com/toeirei/keyctl/internal/crypto/ssh"
	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/fsutil"
	"github.com/toeirei/keyctl/internal/keygen"
	"github.com/toeirei/keyctl/internal/logging"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/security"
	"github.com/toeirei/keyctl/internal/state"
)

// CreateRequest describes a new key. Bits 0 picks the type's default and
// ExpiryDays 0 falls back to Options.DefaultExpiryDays.
type CreateRequest struct {
	Name       string
	Type       model.KeyType
	Bits       int
	Comment    string
	ExpiryDays int
	Passphrase security.Secret
}

// Create generates, admits and commits a new key.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	const op = "create"
	if err := ValidateName(req.Name); err != nil {
		return nil, errs.E(op, req.Name, err)
	}
	if req.Type == "" {
		req.Type = model.KeyTypeEd25519
	}
	if req.Bits == 0 {
		req.Bits = req.Type.DefaultBits()
	}
	if err := validateAlgorithm(req.Type, req.Bits); err != nil {
		return nil, errs.E(op, req.Name, err)
	}
	if req.ExpiryDays == 0 {
		req.ExpiryDays = m.opts.DefaultExpiryDays
	}
	if req.ExpiryDays != 0 {
		if err := ValidateExpiryDays(req.ExpiryDays); err != nil {
			return nil, errs.E(op, req.Name, err)
		}
	}

	unlock := m.locks.lock(req.Name)
	defer unlock()

	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, errs.E(op, req.Name, err)
	}
	if err := m.nameFree(snap, req.Name); err != nil {
		return nil, errs.E(op, req.Name, err)
	}

	stage, err := m.newStaging()
	if err != nil {
		return nil, errs.E(op, req.Name, err)
	}
	defer stage.discard()

	res := &Result{}
	staged := stage.path(req.Name)
	if err := m.generate(ctx, keygen.Request{
		Name: req.Name, Type: req.Type, Bits: req.Bits, Comment: req.Comment,
		Passphrase: req.Passphrase, Dir: stage.dir,
	}); err != nil {
		return nil, errs.E(op, req.Name, err)
	}
	fp, err := m.admit(staged, req.Type, res, true)
	if err != nil {
		return nil, errs.E(op, req.Name, err)
	}

	now := m.now()
	key := model.Key{
		Name:        req.Name,
		Type:        req.Type,
		Bits:        req.Bits,
		Fingerprint: fp,
		Comment:     req.Comment,
		Path:        m.keyPath(req.Name),
		Encrypted:   !req.Passphrase.Empty(),
		CreatedAt:   now,
		State:       model.StateActive,
	}
	if req.ExpiryDays > 0 {
		setExpiry(&key, now, req.ExpiryDays)
	}

	err = m.update(ctx, func(s *state.Snapshot) error {
		if err := m.nameFree(s, key.Name); err != nil {
			return err
		}
		s.Keys[key.Name] = key
		s.Usage[key.Name] = model.UsageRecord{KeyRef: key.Name, FirstUsed: now}
		return nil
	})
	if err != nil {
		return nil, errs.E(op, req.Name, err)
	}

	if err := promote(staged, key.Path); err != nil {
		m.undoCreate(ctx, key)
		return nil, errs.E(op, req.Name, err)
	}

	logging.Infof("created %s key %s (%s)", key.Type, key.Name, key.Fingerprint)
	m.record(ctx, audit.ActionCreate, key.Name, fmt.Sprintf("type=%s bits=%d fingerprint=%s", key.Type, key.Bits, key.Fingerprint))
	res.Key = key
	return res, nil
}

// undoCreate removes a committed record whose material never went live.
func (m *Manager) undoCreate(ctx context.Context, key model.Key) {
	err := m.update(ctx, func(s *state.Snapshot) error {
		if cur, ok := s.Keys[key.Name]; ok && cur.Fingerprint == key.Fingerprint {
			delete(s.Keys, key.Name)
			delete(s.Usage, key.Name)
		}
		return nil
	})
	if err != nil {
		logging.Errorf("create %s: compensation failed, run recover: %v", key.Name, err)
	}
}

// nameFree fails with ErrNameTaken when a record or a file already uses name.
func (m *Manager) nameFree(s *state.Snapshot, name string) error {
	if _, ok := s.Keys[name]; ok {
		return fmt.Errorf("%w: %q", errs.ErrNameTaken, name)
	}
	p := m.keyPath(name)
	if fsutil.Exists(p) || fsutil.Exists(p+".pub") {
		return fmt.Errorf("%w: %s already exists on disk", errs.ErrNameTaken, p)
	}
	return nil
}

// generate runs the generator under the keygen timeout.
func (m *Manager) generate(ctx context.Context, req keygen.Request) error {
	gctx, cancel := context.WithTimeout(ctx, m.opts.KeygenTimeout)
	defer cancel()
	if err := m.gen.Generate(gctx, req); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: timed out after %s", errs.ErrGenerationFailed, m.opts.KeygenTimeout)
		}
		return fmt.Errorf("%w: %w", errs.ErrGenerationFailed, err)
	}
	return nil
}

// admit tightens permissions on staged material, runs the analyzer and
// returns the fingerprint. With strict set a Critical finding rejects the
// material; otherwise findings become warnings.
func (m *Manager) admit(path string, t model.KeyType, res *Result, strict bool) (string, error) {
	if err := security.FixPermissions(path); err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrIOFault, err)
	}
	pub, err := os.ReadFile(path + ".pub")
	if err != nil {
		return "", fmt.Errorf("%w: read public key: %w", errs.ErrGenerationFailed, err)
	}
	info, err := kssh.ParsePublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrGenerationFailed, err)
	}
	meta, err := security.Inspect(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrIOFault, err)
	}
	report := security.Assess(model.Key{Type: t, Bits: info.Bits}, meta)
	res.Report = &report
	if strict && report.Critical() {
		return "", fmt.Errorf("%w: %s", errs.ErrAdmission, criticalMessages(report))
	}
	for _, f := range report.Findings {
		if f.Severity >= security.SeverityWeak {
			res.warn("%s: %s", f.Severity, f.Message)
		}
	}
	return info.Fingerprint, nil
}

func criticalMessages(r security.Report) string {
	var out []string
	for _, f := range r.Findings {
		if f.Severity == security.SeverityCritical {
			out = append(out, f.Message)
		}
	}
	return strings.Join(out, "; ")
}

func setExpiry(k *model.Key, now time.Time, days int) {
	t := now.Add(time.Duration(days) * 24 * time.Hour)
	k.ExpiresAt = &t
	k.ExpiryDays = days
}
