// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package registry owns the references from the outside world to keys: ssh
// client host entries and repository links. Every mutation goes through
// store.Write and validates against the document it is about to change, so a
// link can never point at a key that does not exist.
package registry

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/state"
	"github.com/toeirei/keyctl/internal/store"
)

// Registry links keys to hosts and repositories.
type Registry struct {
	st   *store.Store
	root string
	now  func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithProjectRoot confines repository links to root.
func WithProjectRoot(root string) Option { return func(r *Registry) { r.root = root } }

// WithClock overrides time.Now for LinkedAt stamps.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// New returns a registry over st.
func New(st *store.Store, opts ...Option) *Registry {
	r := &Registry{st: st, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ProjectRoot returns the configured repository root.
func (r *Registry) ProjectRoot() string { return r.root }

// update runs fn against the typed snapshot inside one store write.
func (r *Registry) update(ctx context.Context, fn func(*state.Snapshot) error) error {
	_, err := r.st.Write(ctx, func(doc *store.Document) error {
		snap, err := state.Load(doc)
		if err != nil {
			return fmt.Errorf("%w: %w", errs.ErrCorrupt, err)
		}
		if err := fn(snap); err != nil {
			return err
		}
		return snap.Save(doc)
	})
	return err
}

// LinkHost adds e, replacing an existing entry with the same host pattern.
func (r *Registry) LinkHost(ctx context.Context, e model.HostConfigEntry) error {
	if err := ValidateHost(e); err != nil {
		return err
	}
	return r.update(ctx, func(s *state.Snapshot) error {
		if _, ok := s.Resolve(e.KeyRef); !ok {
			return fmt.Errorf("%w: %q", errs.ErrUnknownKey, e.KeyRef)
		}
		UpsertHost(s, e)
		return nil
	})
}

// LinkRepo links a repository, overwriting any previous link for the same
// canonical path. It returns the stored link.
func (r *Registry) LinkRepo(ctx context.Context, l model.RepoLink) (model.RepoLink, error) {
	p, err := CanonicalRepoPath(r.root, l.RepoPath)
	if err != nil {
		return model.RepoLink{}, err
	}
	l.RepoPath = p
	l.LinkedAt = r.now().UTC()
	err = r.update(ctx, func(s *state.Snapshot) error {
		if _, ok := s.Resolve(l.KeyRef); !ok {
			return fmt.Errorf("%w: %q", errs.ErrUnknownKey, l.KeyRef)
		}
		s.Repos[l.RepoPath] = l
		return nil
	})
	if err != nil {
		return model.RepoLink{}, err
	}
	return l, nil
}

// Unlink removes every association referencing keyRef and returns how many
// were removed.
func (r *Registry) Unlink(ctx context.Context, keyRef string) (int, error) {
	var n int
	err := r.update(ctx, func(s *state.Snapshot) error {
		n = len(Detach(s, keyRef))
		return nil
	})
	return n, err
}

// UnlinkHost removes the entry for pattern.
func (r *Registry) UnlinkHost(ctx context.Context, pattern string) (model.HostConfigEntry, error) {
	var removed model.HostConfigEntry
	err := r.update(ctx, func(s *state.Snapshot) error {
		for i, h := range s.Hosts {
			if h.HostPattern == pattern {
				removed = h
				s.Hosts = append(s.Hosts[:i], s.Hosts[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: host %q", errs.ErrUnknownLink, pattern)
	})
	return removed, err
}

// UnlinkRepo removes the link for path.
func (r *Registry) UnlinkRepo(ctx context.Context, path string) (model.RepoLink, error) {
	p, err := CanonicalRepoPath(r.root, path)
	if err != nil {
		return model.RepoLink{}, err
	}
	var removed model.RepoLink
	err = r.update(ctx, func(s *state.Snapshot) error {
		l, ok := s.Repos[p]
		if !ok {
			return fmt.Errorf("%w: repo %q", errs.ErrUnknownLink, p)
		}
		removed = l
		delete(s.Repos, p)
		return nil
	})
	return removed, err
}

// Filter narrows Query. Zero fields match everything.
type Filter struct {
	KeyRef string
	Kind   model.AssocKind
	Target string
}

func (f Filter) match(a model.Association) bool {
	if f.KeyRef != "" && a.KeyRef() != f.KeyRef {
		return false
	}
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.Target != "" && a.Target() != f.Target {
		return false
	}
	return true
}

// Query returns the associations matching f as of one consistent read. The
// sequence is finite and can be ranged over any number of times.
func (r *Registry) Query(ctx context.Context, f Filter) (iter.Seq[model.Association], error) {
	doc, err := r.st.Read(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := state.Load(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrCorrupt, err)
	}
	all := snap.Associations()
	return func(yield func(model.Association) bool) {
		for _, a := range all {
			if f.match(a) && !yield(a) {
				return
			}
		}
	}, nil
}

// UpsertHost inserts e or replaces the entry with the same pattern in place.
// It reports whether an entry was replaced.
func UpsertHost(s *state.Snapshot, e model.HostConfigEntry) bool {
	for i, h := range s.Hosts {
		if h.HostPattern == e.HostPattern {
			s.Hosts[i] = e
			return true
		}
	}
	s.Hosts = append(s.Hosts, e)
	return false
}

// Repoint moves every association from one key to another and returns the
// updated associations.
func Repoint(s *state.Snapshot, from, to string) []model.Association {
	var moved []model.Association
	for i, h := range s.Hosts {
		if h.KeyRef == from {
			s.Hosts[i].KeyRef = to
			moved = append(moved, model.Association{Kind: model.AssocHost, Host: s.Hosts[i]})
		}
	}
	for _, p := range s.RepoPaths() {
		l := s.Repos[p]
		if l.KeyRef == from {
			l.KeyRef = to
			s.Repos[p] = l
			moved = append(moved, model.Association{Kind: model.AssocRepo, Repo: l})
		}
	}
	return moved
}

// Detach removes every association referencing keyRef and returns them.
func Detach(s *state.Snapshot, keyRef string) []model.Association {
	var removed []model.Association
	kept := s.Hosts[:0]
	for _, h := range s.Hosts {
		if h.KeyRef == keyRef {
			removed = append(removed, model.Association{Kind: model.AssocHost, Host: h})
			continue
		}
		kept = append(kept, h)
	}
	s.Hosts = kept
	for _, p := range s.RepoPaths() {
		if l := s.Repos[p]; l.KeyRef == keyRef {
			removed = append(removed, model.Association{Kind: model.AssocRepo, Repo: l})
			delete(s.Repos, p)
		}
	}
	return removed
}
