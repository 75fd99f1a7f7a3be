// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package core is the key lifecycle manager. It owns key identity and drives
// every transition (create, rotate, delete, restore) as: stage material,
// commit one store batch, then prune what the batch made obsolete. Nothing a
// caller can observe changes until the batch commits.
package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/keygen"
	"github.com/toeirei/keyctl/internal/logging"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/registry"
	"github.com/toeirei/keyctl/internal/security"
	"github.com/toeirei/keyctl/internal/state"
	"github.com/toeirei/keyctl/internal/store"
)

// Deps are the collaborators of a Manager. Store, Registry, Generator and
// Backups are required.
type Deps struct {
	Store     *store.Store
	Registry  *registry.Registry
	Generator keygen.Generator
	Backups   Backups
	Journal   Journal
	Git       Git
	Validator Validator
	Clock     Clock
}

// Options tune a Manager.
type Options struct {
	// SSHDir receives live key material.
	SSHDir string
	// SSHConfig is the ssh client config kept in sync with host entries.
	// Empty disables syncing.
	SSHConfig string
	// WarningWindow is how long before expiry a key reports Expiring.
	WarningWindow time.Duration
	// KeygenTimeout bounds one call to the generator.
	KeygenTimeout time.Duration
	// StagingTTL is the age after which Recover sweeps a staging dir.
	StagingTTL time.Duration
	// DefaultExpiryDays applies to Create when the request has none.
	DefaultExpiryDays int
}

// DefaultWarningWindow is used when Options.WarningWindow is zero.
const DefaultWarningWindow = 30 * 24 * time.Hour

// Manager orchestrates key transitions.
type Manager struct {
	st      *store.Store
	reg     *registry.Registry
	gen     keygen.Generator
	backups Backups
	journal Journal
	git     Git
	val     Validator
	clock   Clock
	opts    Options

	locks keyLocks
}

// Result reports a committed transition. Warnings carry non-blocking
// findings and best-effort failures that happened after the commit.
type Result struct {
	Key        model.Key
	Previous   *model.Key
	Affected   []model.Association
	BackupPath string
	Report     *security.Report
	Warnings   []string
}

func (r *Result) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logging.Warnf("%s", msg)
	r.Warnings = append(r.Warnings, msg)
}

// New validates deps and returns a Manager.
func New(deps Deps, opts Options) (*Manager, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("core: store is required")
	case deps.Registry == nil:
		return nil, errors.New("core: registry is required")
	case deps.Generator == nil:
		return nil, errors.New("core: generator is required")
	case deps.Backups == nil:
		return nil, errors.New("core: backup service is required")
	case opts.SSHDir == "":
		return nil, errors.New("core: ssh dir is required")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if opts.WarningWindow <= 0 {
		opts.WarningWindow = DefaultWarningWindow
	}
	if opts.KeygenTimeout <= 0 {
		opts.KeygenTimeout = 30 * time.Second
	}
	if opts.StagingTTL <= 0 {
		opts.StagingTTL = time.Hour
	}
	abs, err := filepath.Abs(opts.SSHDir)
	if err != nil {
		return nil, fmt.Errorf("core: ssh dir: %w", err)
	}
	opts.SSHDir = abs
	return &Manager{
		st:      deps.Store,
		reg:     deps.Registry,
		gen:     deps.Generator,
		backups: deps.Backups,
		journal: deps.Journal,
		git:     deps.Git,
		val:     deps.Validator,
		clock:   deps.Clock,
		opts:    opts,
		locks:   keyLocks{m: map[string]*sync.Mutex{}},
	}, nil
}

func (m *Manager) now() time.Time { return m.clock.Now().UTC() }

// keyPath is where live material for name is kept.
func (m *Manager) keyPath(name string) string { return filepath.Join(m.opts.SSHDir, name) }

// snapshot reads one consistent view of the store.
func (m *Manager) snapshot(ctx context.Context) (*state.Snapshot, error) {
	doc, err := m.st.Read(ctx)
	if err != nil {
		return nil, err
	}
	s, err := state.Load(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrCorrupt, err)
	}
	return s, nil
}

// update runs fn as one atomic batch.
func (m *Manager) update(ctx context.Context, fn func(*state.Snapshot) error) error {
	_, err := m.st.Write(ctx, func(doc *store.Document) error {
		s, err := state.Load(doc)
		if err != nil {
			return fmt.Errorf("%w: %w", errs.ErrCorrupt, err)
		}
		if err := fn(s); err != nil {
			return err
		}
		return s.Save(doc)
	})
	return err
}

func (m *Manager) record(ctx context.Context, action, key, details string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Record(ctx, action, key, details); err != nil {
		logging.Warnf("audit: %s %s: %v", action, key, err)
	}
}

// resolve finds the live key called name. When no key has that name, the
// current generation of the lineage name is used instead, so a rotated key
// can still be addressed by its original name.
func resolve(s *state.Snapshot, name string) (model.Key, bool) {
	if k, ok := s.Resolve(name); ok {
		return k, true
	}
	var found model.Key
	n := 0
	for _, kn := range s.KeyNames() {
		if k := s.Keys[kn]; k.Lineage == name {
			found = k
			n++
		}
	}
	return found, n == 1
}

// keyLocks serializes transitions on one key inside this process. The store
// lock serializes processes; batches re-validate what they read earlier.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *keyLocks) lock(name string) func() {
	l.mu.Lock()
	mu, ok := l.m[name]
	if !ok {
		mu = &sync.Mutex{}
		l.m[name] = mu
	}
	l.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}
