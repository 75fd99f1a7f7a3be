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
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/provider"
	"github.com/toeirei/keyctl/internal/registry"
)

// LinkHost records a host entry for a key and writes its ssh config block.
func (m *Manager) LinkHost(ctx context.Context, e model.HostConfigEntry) (*Result, error) {
	const op = "link host"
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, errs.E(op, e.KeyRef, err)
	}
	if k, ok := resolve(snap, e.KeyRef); ok {
		e.KeyRef = k.Name
	}
	if err := m.reg.LinkHost(ctx, e); err != nil {
		return nil, errs.E(op, e.KeyRef, err)
	}
	res := &Result{Affected: []model.Association{{Kind: model.AssocHost, Host: e}}}
	m.syncAssociations(ctx, res.Affected, res)
	m.record(ctx, audit.ActionLinkHost, e.KeyRef, "host="+e.HostPattern)
	return res, nil
}

// UnlinkHost drops the host entry for pattern and its ssh config block.
func (m *Manager) UnlinkHost(ctx context.Context, pattern string) (*Result, error) {
	const op = "unlink host"
	removed, err := m.reg.UnlinkHost(ctx, pattern)
	if err != nil {
		return nil, errs.E(op, "", err)
	}
	res := &Result{Affected: []model.Association{{Kind: model.AssocHost, Host: removed}}}
	m.detachAssociations(ctx, res.Affected, res)
	m.record(ctx, audit.ActionUnlinkHost, removed.KeyRef, "host="+pattern)
	return res, nil
}

// LinkRepo links a repository to a key and pins the key in its git config.
// The provider is taken from remote.origin.url when not given.
func (m *Manager) LinkRepo(ctx context.Context, l model.RepoLink) (*Result, error) {
	const op = "link repo"
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, errs.E(op, l.KeyRef, err)
	}
	if k, ok := resolve(snap, l.KeyRef); ok {
		l.KeyRef = k.Name
	}
	res := &Result{}
	if l.Provider == "" && m.git != nil {
		if p, err := registry.CanonicalRepoPath(m.reg.ProjectRoot(), l.RepoPath); err == nil {
			if remote, err := m.git.RemoteURL(ctx, p); err == nil {
				l.Provider = provider.HostFromURL(remote)
			}
		}
	}
	stored, err := m.reg.LinkRepo(ctx, l)
	if err != nil {
		return nil, errs.E(op, l.KeyRef, err)
	}
	res.Affected = []model.Association{{Kind: model.AssocRepo, Repo: stored}}
	m.syncAssociations(ctx, res.Affected, res)
	m.record(ctx, audit.ActionLinkRepo, stored.KeyRef, "repo="+stored.RepoPath)
	return res, nil
}

// UnlinkRepo drops a repository link and clears its pinned key.
func (m *Manager) UnlinkRepo(ctx context.Context, path string) (*Result, error) {
	const op = "unlink repo"
	removed, err := m.reg.UnlinkRepo(ctx, path)
	if err != nil {
		return nil, errs.E(op, "", err)
	}
	res := &Result{Affected: []model.Association{{Kind: model.AssocRepo, Repo: removed}}}
	m.detachAssociations(ctx, res.Affected, res)
	m.record(ctx, audit.ActionUnlinkRepo, removed.KeyRef, "repo="+removed.RepoPath)
	return res, nil
}

// CloneRequest describes a clone through a managed key.
type CloneRequest struct {
	Key      string
	Provider string
	// Remote is a full URL or owner/repo shorthand on Provider.
	Remote string
	// Dest defaults to the repository name below the project root.
	Dest  string
	Email string
	User  string
}

// CloneRepo clones with the key pinned, then links the new checkout.
func (m *Manager) CloneRepo(ctx context.Context, req CloneRequest) (*Result, error) {
	const op = "clone"
	if m.git == nil {
		return nil, errs.E(op, req.Key, errors.New("git integration disabled"))
	}
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, errs.E(op, req.Key, err)
	}
	key, ok := resolve(snap, req.Key)
	if !ok {
		return nil, errs.E(op, req.Key, errs.ErrNotFound)
	}
	if req.Provider == "" && !containsHost(req.Remote) {
		return nil, errs.E(op, req.Key, fmt.Errorf("%w: provider required for shorthand %q", errs.ErrInvalidInput, req.Remote))
	}
	remote := provider.ExpandShorthand(req.Provider, req.Remote)
	dest := req.Dest
	if dest == "" {
		dest = provider.RepoName(remote)
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(m.reg.ProjectRoot(), dest)
	}
	// Validate the target before git creates anything.
	if _, err := registry.CanonicalRepoPath(m.reg.ProjectRoot(), dest); err != nil {
		return nil, errs.E(op, key.Name, err)
	}
	if _, err := os.Stat(dest); err == nil {
		return nil, errs.E(op, key.Name, fmt.Errorf("%w: %s already exists", errs.ErrInvalidInput, dest))
	}
	if err := m.git.Clone(ctx, remote, dest, key.Path); err != nil {
		return nil, errs.E(op, key.Name, err)
	}

	res, err := m.LinkRepo(ctx, model.RepoLink{RepoPath: dest, KeyRef: key.Name, Provider: provider.HostFromURL(remote)})
	if err != nil {
		return nil, err
	}
	if req.Email != "" || req.User != "" {
		if err := m.git.SetIdentity(ctx, dest, req.Email, req.User); err != nil {
			res.warn("identity not set in %s: %v", dest, err)
		}
	}
	m.recordUse(ctx, key.Name, res)
	return res, nil
}

func containsHost(remote string) bool {
	return provider.ExpandShorthand("", remote) == remote
}
