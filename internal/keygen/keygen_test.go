// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package keygen

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	kssh "github.com/toeirei/keyctl/internal/crypto/ssh"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/security"
)

func TestBuiltin_WritesPair(t *testing.T) {
	req := Request{Name: "k", Type: model.KeyTypeEd25519, Bits: 256, Comment: "c", Dir: t.TempDir()}
	if err := (Builtin{}).Generate(context.Background(), req); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	pub, err := os.ReadFile(req.Path() + ".pub")
	if err != nil {
		t.Fatalf("read pub: %v", err)
	}
	if _, err := kssh.ParsePublicKey(pub); err != nil {
		t.Fatalf("bad pub: %v", err)
	}
	// A second run must not clobber existing material.
	if err := (Builtin{}).Generate(context.Background(), req); err == nil {
		t.Fatalf("expected existing file to be refused")
	}
}

func TestBuiltin_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := Request{Name: "k", Type: model.KeyTypeRSA, Bits: 4096, Dir: t.TempDir()}
	if err := (Builtin{}).Generate(ctx, req); !errors.Is(err, context.Canceled) {
		// The generator may win the race on a fast machine; it then must have written files.
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	}
}

func TestSSHKeygen_Args(t *testing.T) {
	g := &SSHKeygen{Path: "ssh-keygen"}
	args := strings.Join(g.Args(Request{Name: "k", Type: model.KeyTypeRSA, Bits: 4096, Comment: "me", Dir: "/tmp/s",
		Passphrase: security.FromString("pw")}), " ")
	for _, want := range []string{"-t rsa", "-b 4096", "-C me", "-N pw", "-f /tmp/s/k"} {
		if !strings.Contains(args, want) {
			t.Fatalf("missing %q in %q", want, args)
		}
	}
	ed := strings.Join(g.Args(Request{Name: "k", Type: model.KeyTypeEd25519, Bits: 256, Dir: "/tmp/s"}), " ")
	if strings.Contains(ed, "-b") {
		t.Fatalf("ed25519 must not pass -b: %q", ed)
	}
}

func TestSSHKeygen_TimeoutSurfaces(t *testing.T) {
	g := &SSHKeygen{Path: "ssh-keygen", Run: func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, errors.New("killed")
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Generate(ctx, Request{Name: "k", Type: model.KeyTypeEd25519, Dir: t.TempDir()})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestSSHKeygen_FailureIncludesOutput(t *testing.T) {
	g := &SSHKeygen{Path: "ssh-keygen", Run: func(context.Context, string, ...string) ([]byte, error) {
		return []byte("Saving key failed"), errors.New("exit status 1")
	}}
	err := g.Generate(context.Background(), Request{Name: "k", Type: model.KeyTypeEd25519, Dir: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "Saving key failed") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNew(t *testing.T) {
	if g, err := New("", ""); err != nil || g == nil {
		t.Fatalf("default backend: %v", err)
	}
	if g, err := New(BackendSSHKeygen, ""); err != nil || g.(*SSHKeygen).Path != "ssh-keygen" {
		t.Fatalf("ssh-keygen backend: %v", err)
	}
	if _, err := New("gpg", ""); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
