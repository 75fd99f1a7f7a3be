// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package state

import (
	"sort"

	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/store"
)

// Section names inside the store document.
const (
	SectionKeys  = "keys"
	SectionHosts = "hosts"
	SectionRepos = "repos"
	SectionUsage = "usage"
)

// Snapshot is the typed view of one store document. Load and Save touch only
// the sections above; every other section passes through untouched.
type Snapshot struct {
	Keys  map[string]model.Key
	Hosts []model.HostConfigEntry
	Repos map[string]model.RepoLink
	Usage map[string]model.UsageRecord
}

// Load decodes the known sections of doc.
func Load(doc *store.Document) (*Snapshot, error) {
	s := &Snapshot{
		Keys:  map[string]model.Key{},
		Repos: map[string]model.RepoLink{},
		Usage: map[string]model.UsageRecord{},
	}
	if err := doc.Decode(SectionKeys, &s.Keys); err != nil {
		return nil, err
	}
	if err := doc.Decode(SectionHosts, &s.Hosts); err != nil {
		return nil, err
	}
	if err := doc.Decode(SectionRepos, &s.Repos); err != nil {
		return nil, err
	}
	if err := doc.Decode(SectionUsage, &s.Usage); err != nil {
		return nil, err
	}
	return s, nil
}

// Save encodes the snapshot back into doc.
func (s *Snapshot) Save(doc *store.Document) error {
	if err := doc.Encode(SectionKeys, s.Keys); err != nil {
		return err
	}
	hosts := s.Hosts
	if hosts == nil {
		hosts = []model.HostConfigEntry{}
	}
	if err := doc.Encode(SectionHosts, hosts); err != nil {
		return err
	}
	if err := doc.Encode(SectionRepos, s.Repos); err != nil {
		return err
	}
	return doc.Encode(SectionUsage, s.Usage)
}

// Resolve returns the live key called name. Revoked records awaiting
// pruning do not resolve.
func (s *Snapshot) Resolve(name string) (model.Key, bool) {
	k, ok := s.Keys[name]
	if !ok || k.State == model.StateRevoked {
		return model.Key{}, false
	}
	return k, true
}

// KeyNames returns every live key name, sorted.
func (s *Snapshot) KeyNames() []string {
	names := make([]string, 0, len(s.Keys))
	for n, k := range s.Keys {
		if k.State != model.StateRevoked {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// RepoPaths returns the linked repository paths, sorted.
func (s *Snapshot) RepoPaths() []string {
	paths := make([]string, 0, len(s.Repos))
	for p := range s.Repos {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Associations lists every host entry (in file order) then every repo link
// (sorted by path).
func (s *Snapshot) Associations() []model.Association {
	out := make([]model.Association, 0, len(s.Hosts)+len(s.Repos))
	for _, h := range s.Hosts {
		out = append(out, model.Association{Kind: model.AssocHost, Host: h})
	}
	for _, p := range s.RepoPaths() {
		out = append(out, model.Association{Kind: model.AssocRepo, Repo: s.Repos[p]})
	}
	return out
}

// References returns the associations pointing at name.
func (s *Snapshot) References(name string) []model.Association {
	var out []model.Association
	for _, a := range s.Associations() {
		if a.KeyRef() == name {
			out = append(out, a)
		}
	}
	return out
}

// Dangling returns associations whose keyRef does not resolve. It is empty
// between transitions.
func (s *Snapshot) Dangling() []model.Association {
	var out []model.Association
	for _, a := range s.Associations() {
		if _, ok := s.Resolve(a.KeyRef()); !ok {
			out = append(out, a)
		}
	}
	return out
}
