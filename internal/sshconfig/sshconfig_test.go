// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package sshconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/toeirei/keyctl/internal/model"
)

const sample = `# global settings
Include ~/.ssh/config.d/*

Host github.com
    User git
    IdentityFile ~/.ssh/old
    ForwardAgent no

# work servers
Host *.corp.example
    User alice
    # keep this note
    ProxyJump bastion
`

func TestParse_RoundTripsVerbatim(t *testing.T) {
	f := Parse([]byte(sample))
	if got := string(f.Bytes()); got != sample {
		t.Fatalf("round trip changed file:\n%s", got)
	}
}

func TestUpsert_ReplacesOnlyMatchingBlock(t *testing.T) {
	f := Parse([]byte(sample))
	replaced := f.Upsert(model.HostConfigEntry{HostPattern: "github.com", KeyRef: "k", Port: 22}, "/home/u/.ssh/k-rotated-1")
	if !replaced {
		t.Fatalf("expected replacement")
	}
	out := string(f.Bytes())
	for _, want := range []string{
		"IdentityFile /home/u/.ssh/k-rotated-1",
		"IdentitiesOnly yes",
		"Port 22",
		"User git",
		"ForwardAgent no",
		"# work servers",
		"# keep this note",
		"ProxyJump bastion",
		"Include ~/.ssh/config.d/*",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "~/.ssh/old") {
		t.Fatalf("old identity not replaced:\n%s", out)
	}
}

func TestUpsert_AppendsNewBlock(t *testing.T) {
	f := Parse([]byte(sample))
	if f.Upsert(model.HostConfigEntry{HostPattern: "gitlab.com", User: "git"}, "/keys/with space") {
		t.Fatalf("new block reported as replaced")
	}
	hosts := f.Hosts()
	last := hosts[len(hosts)-1]
	if last.Pattern != "gitlab.com" || last.User != "git" || last.IdentityFile != "/keys/with space" {
		t.Fatalf("unexpected appended host %+v", last)
	}
	if !strings.Contains(string(f.Bytes()), `IdentityFile "/keys/with space"`) {
		t.Fatalf("path with space not quoted")
	}
}

func TestRemove_LeavesCommentsAndOtherBlocks(t *testing.T) {
	f := Parse([]byte(sample))
	if !f.Remove("github.com") {
		t.Fatalf("expected removal")
	}
	if f.Remove("github.com") {
		t.Fatalf("second removal should report false")
	}
	out := string(f.Bytes())
	if strings.Contains(out, "Host github.com") || strings.Contains(out, "ForwardAgent") {
		t.Fatalf("block not removed:\n%s", out)
	}
	for _, keep := range []string{"# global settings", "# work servers", "Host *.corp.example", "ProxyJump bastion"} {
		if !strings.Contains(out, keep) {
			t.Fatalf("lost %q:\n%s", keep, out)
		}
	}
}

func TestMatchExactPatternOnly(t *testing.T) {
	f := Parse([]byte("Host github.com gist.github.com\n    User git\n"))
	if f.Has("github.com") {
		t.Fatalf("partial pattern matched")
	}
	if !f.Has("github.com   gist.github.com") {
		t.Fatalf("whitespace-normalized pattern not matched")
	}
}

func TestEdit_WritesAtomicallyWith0600(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	err := Edit(path, func(f *File) error {
		f.Upsert(model.HostConfigEntry{HostPattern: "h"}, "/k")
		return nil
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "Host h\n") {
		t.Fatalf("unexpected content %q", data)
	}
	fi, _ := os.Stat(path)
	if fi.Mode().Perm() != 0o600 && os.PathSeparator == '/' {
		t.Fatalf("mode %v", fi.Mode().Perm())
	}
}
