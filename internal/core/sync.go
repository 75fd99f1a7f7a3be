// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"

	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/sshconfig"
	"github.com/toeirei/keyctl/internal/state"
)

// syncAssociations makes the ssh config and the pinned repositories reflect
// assocs. The store is already committed; failures only warn.
func (m *Manager) syncAssociations(ctx context.Context, assocs []model.Association, res *Result) {
	var hosts []model.HostConfigEntry
	for _, a := range assocs {
		switch a.Kind {
		case model.AssocHost:
			hosts = append(hosts, a.Host)
		case model.AssocRepo:
			if m.git == nil {
				continue
			}
			if err := m.git.PinKey(ctx, a.Repo.RepoPath, m.keyPath(a.Repo.KeyRef)); err != nil {
				res.warn("repo %s not re-pinned: %v", a.Repo.RepoPath, err)
			}
		}
	}
	if len(hosts) == 0 || m.opts.SSHConfig == "" {
		return
	}
	err := sshconfig.Edit(m.opts.SSHConfig, func(f *sshconfig.File) error {
		for _, h := range hosts {
			f.Upsert(h, m.keyPath(h.KeyRef))
		}
		return nil
	})
	if err != nil {
		res.warn("ssh config %s not updated: %v", m.opts.SSHConfig, err)
	}
}

// detachAssociations removes host blocks and repo pins for associations a
// delete just dropped.
func (m *Manager) detachAssociations(ctx context.Context, assocs []model.Association, res *Result) {
	var patterns []string
	for _, a := range assocs {
		switch a.Kind {
		case model.AssocHost:
			patterns = append(patterns, a.Host.HostPattern)
		case model.AssocRepo:
			if m.git == nil {
				continue
			}
			if err := m.git.UnpinKey(ctx, a.Repo.RepoPath); err != nil {
				res.warn("repo %s still pinned: %v", a.Repo.RepoPath, err)
			}
		}
	}
	if len(patterns) == 0 || m.opts.SSHConfig == "" {
		return
	}
	err := sshconfig.Edit(m.opts.SSHConfig, func(f *sshconfig.File) error {
		for _, p := range patterns {
			f.Remove(p)
		}
		return nil
	})
	if err != nil {
		res.warn("ssh config %s not updated: %v", m.opts.SSHConfig, err)
	}
}

// SyncSSHConfig rewrites every managed host block from the store.
func (m *Manager) SyncSSHConfig(ctx context.Context) (*Result, error) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	if m.opts.SSHConfig == "" {
		res.warn("no ssh config path configured")
		return res, nil
	}
	res.Affected = hostsOnly(snap)
	m.syncAssociations(ctx, res.Affected, res)
	return res, nil
}

// SyncRepos re-pins every linked repository to its key.
func (m *Manager) SyncRepos(ctx context.Context) (*Result, error) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	if m.git == nil {
		res.warn("git integration disabled")
		return res, nil
	}
	var repos []model.Association
	for _, a := range snap.Associations() {
		if a.Kind == model.AssocRepo {
			repos = append(repos, a)
		}
	}
	m.syncAssociations(ctx, repos, res)
	res.Affected = repos
	return res, nil
}

func hostsOnly(s *state.Snapshot) []model.Association {
	var out []model.Association
	for _, a := range s.Associations() {
		if a.Kind == model.AssocHost {
			out = append(out, a)
		}
	}
	return out
}
