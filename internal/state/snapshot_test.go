// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/store"
)

func TestSnapshot_SaveLoadKeepsForeignSections(t *testing.T) {
	doc := store.NewDocument()
	_ = doc.Encode("plugins", map[string]bool{"x": true})

	s, err := Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.Keys["work"] = model.Key{Name: "work", State: model.StateActive}
	s.Hosts = append(s.Hosts, model.HostConfigEntry{HostPattern: "github.com", KeyRef: "work"})
	s.Repos["/src/a"] = model.RepoLink{RepoPath: "/src/a", KeyRef: "work"}
	if err := s.Save(doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !doc.Has("plugins") {
		t.Fatalf("foreign section dropped")
	}

	again, err := Load(doc)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := len(again.References("work")); got != 2 {
		t.Fatalf("References = %d, want 2", got)
	}
	if len(again.Dangling()) != 0 {
		t.Fatalf("unexpected dangling refs")
	}
}

func TestSnapshot_RevokedDoesNotResolve(t *testing.T) {
	s, _ := Load(store.NewDocument())
	s.Keys["old"] = model.Key{Name: "old", State: model.StateRevoked}
	s.Hosts = []model.HostConfigEntry{{HostPattern: "h", KeyRef: "old"}}
	if _, ok := s.Resolve("old"); ok {
		t.Fatalf("revoked key resolved")
	}
	if len(s.KeyNames()) != 0 {
		t.Fatalf("revoked key listed")
	}
	if len(s.Dangling()) != 1 {
		t.Fatalf("expected one dangling ref")
	}
}

func TestSnapshot_KeepsUnknownRecordFields(t *testing.T) {
	doc := store.NewDocument()
	_ = doc.Encode(SectionKeys, map[string]json.RawMessage{
		"k1": json.RawMessage(`{"name":"k1","state":"active","futureField":"keep-me"}`),
	})
	_ = doc.Encode(SectionHosts, []json.RawMessage{
		json.RawMessage(`{"hostPattern":"h","keyRef":"k1","proxyJump":"bastion"}`),
	})

	s, err := Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	k := s.Keys["k1"]
	exp := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	k.ExpiresAt = &exp
	s.Keys["k1"] = k
	s.Hosts[0].Port = 2222
	if err := s.Save(doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var keys map[string]map[string]any
	if err := doc.Decode(SectionKeys, &keys); err != nil {
		t.Fatal(err)
	}
	if keys["k1"]["futureField"] != "keep-me" || keys["k1"]["expiresAt"] == nil {
		t.Fatalf("key record after rewrite: %v", keys["k1"])
	}
	var hosts []map[string]any
	if err := doc.Decode(SectionHosts, &hosts); err != nil {
		t.Fatal(err)
	}
	if hosts[0]["proxyJump"] != "bastion" || hosts[0]["port"] != float64(2222) {
		t.Fatalf("host record after rewrite: %v", hosts[0])
	}
}
