// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/keygen"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/registry"
	"github.com/toeirei/keyctl/internal/store"
)

// securityKeyGenerator writes a FIDO security-key public key, an algorithm
// the analyzer does not recognize and therefore rejects.
type securityKeyGenerator struct{}

func (securityKeyGenerator) Generate(_ context.Context, req keygen.Request) error {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	wire := ssh.Marshal(struct {
		Name string
		Key  []byte
		App  string
	}{"sk-ssh-ed25519@openssh.com", pub, "ssh:"})
	line := "sk-ssh-ed25519@openssh.com " + base64.StdEncoding.EncodeToString(wire) + " " + req.Name + "\n"
	if err := os.WriteFile(req.Path(), []byte("placeholder"), 0o600); err != nil {
		return err
	}
	return os.WriteFile(req.Path()+".pub", []byte(line), 0o644)
}

// failNextPromote makes the next promotion fail.
func failNextPromote(t *testing.T) {
	t.Helper()
	orig := promote
	t.Cleanup(func() { promote = orig })
	promote = func(string, string) error {
		promote = orig
		return fmt.Errorf("%w: disk full", errs.ErrIOFault)
	}
}

// peer returns a second manager on the same store and ssh dir, standing in
// for another keyctl process.
func (f *fixture) peer(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Deps{
		Store:     f.st,
		Registry:  registry.New(f.st),
		Generator: keygen.Builtin{},
		Backups:   f.backups,
	}, Options{SSHDir: f.sshDir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestCreate_AdmissionRejectionLeavesNoTrace(t *testing.T) {
	f := newFixture(t, func(d *Deps, _ *Options) { d.Generator = securityKeyGenerator{} })
	before := f.storeBytes(t)

	_, err := f.m.Create(context.Background(), CreateRequest{Name: "fido"})
	if !errors.Is(err, errs.ErrAdmission) || errs.ExitCode(err) != errs.ExitSecurity {
		t.Fatalf("expected ErrAdmission, got %v", err)
	}
	if !bytes.Equal(before, f.storeBytes(t)) {
		t.Fatalf("store changed")
	}
	if _, err := os.Stat(filepath.Join(f.sshDir, "fido")); !os.IsNotExist(err) {
		t.Fatalf("rejected material promoted")
	}
	assertNoStaging(t, f)
}

func TestCreate_PromoteFailureUndoesCommit(t *testing.T) {
	f := newFixture(t)
	f.create(t, "seed")
	before := f.storeBytes(t)
	failNextPromote(t)

	if _, err := f.m.Create(context.Background(), CreateRequest{Name: "k"}); !errors.Is(err, errs.ErrIOFault) {
		t.Fatalf("expected ErrIOFault, got %v", err)
	}
	if !bytes.Equal(before, f.storeBytes(t)) {
		t.Fatalf("record of a failed create survived")
	}
	if _, err := os.Stat(filepath.Join(f.sshDir, "k")); !os.IsNotExist(err) {
		t.Fatalf("material left behind")
	}
	assertNoStaging(t, f)

	// The name is usable again.
	f.create(t, "k")
}

func TestRotate_GeneratorFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	orig := f.create(t, "k")
	f.m.gen = failingGenerator{}
	before := f.storeBytes(t)

	if _, err := f.m.Rotate(context.Background(), RotateRequest{Name: "k"}); !errors.Is(err, errs.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if !bytes.Equal(before, f.storeBytes(t)) {
		t.Fatalf("store changed")
	}
	if _, err := os.Stat(orig.Path); err != nil {
		t.Fatalf("original material touched: %v", err)
	}
	if n := f.backupCount(t); n != 0 {
		t.Fatalf("%d backups left from a failed rotation", n)
	}
	assertNoStaging(t, f)
}

func TestRotate_AdmissionRejectionLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	orig := f.create(t, "k")
	f.m.gen = securityKeyGenerator{}
	before := f.storeBytes(t)

	if _, err := f.m.Rotate(context.Background(), RotateRequest{Name: "k"}); !errors.Is(err, errs.ErrAdmission) {
		t.Fatalf("expected ErrAdmission, got %v", err)
	}
	if !bytes.Equal(before, f.storeBytes(t)) {
		t.Fatalf("store changed")
	}
	if _, err := os.Stat(orig.Path); err != nil {
		t.Fatalf("original material touched: %v", err)
	}
	if n := f.backupCount(t); n != 0 {
		t.Fatalf("%d backups left from a rejected rotation", n)
	}
	assertNoStaging(t, f)
}

func TestRotate_PromoteFailureUndoesCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig := f.create(t, "k")
	if _, err := f.m.LinkHost(ctx, model.HostConfigEntry{HostPattern: "git.example", KeyRef: "k"}); err != nil {
		t.Fatal(err)
	}
	before := f.storeBytes(t)
	failNextPromote(t)

	if _, err := f.m.Rotate(ctx, RotateRequest{Name: "k"}); !errors.Is(err, errs.ErrIOFault) {
		t.Fatalf("expected ErrIOFault, got %v", err)
	}
	if !bytes.Equal(before, f.storeBytes(t)) {
		t.Fatalf("rotation batch not undone")
	}
	if _, err := os.Stat(orig.Path); err != nil {
		t.Fatalf("original material lost: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.sshDir, "k-rotated-1")); !os.IsNotExist(err) {
		t.Fatalf("new material promoted")
	}
	if n := f.backupCount(t); n != 0 {
		t.Fatalf("%d backups left from an undone rotation", n)
	}
	assertNoStaging(t, f)
}

func TestRotate_LoosePermissionsOnCurrentKeyOnlyWarn(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	f := newFixture(t)
	orig := f.create(t, "k")
	if err := os.Chmod(orig.Path, 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := f.m.Rotate(context.Background(), RotateRequest{Name: "k"})
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "current key") && strings.Contains(w, "0644") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no warning about the current key: %v", res.Warnings)
	}
	assertNoStaging(t, f)
}

func TestRecover_LeavesRunningTransitionsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.peer(t)

	// The other process recovers between our commit and our promotion.
	orig := promote
	t.Cleanup(func() { promote = orig })
	var rep *RecoveryReport
	promote = func(src, dst string) error {
		if rep == nil {
			r, err := other.Recover(ctx)
			if err != nil {
				return err
			}
			rep = r
		}
		return orig(src, dst)
	}

	k := f.create(t, "k1")
	if len(rep.Promoted) != 0 || len(rep.Swept) != 0 {
		t.Fatalf("recover touched a running create: %+v", rep)
	}
	if _, err := os.Stat(k.Path); err != nil {
		t.Fatalf("material not promoted: %v", err)
	}

	rep = nil
	res, err := f.m.Rotate(ctx, RotateRequest{Name: "k1"})
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if len(rep.Pruned) != 0 || len(rep.Promoted) != 0 {
		t.Fatalf("recover touched a running rotation: %+v", rep)
	}
	snap, _ := f.m.snapshot(ctx)
	if _, ok := snap.Keys["k1"]; ok {
		t.Fatalf("revoked record not pruned by the rotation")
	}
	if got := snap.Keys[res.Key.Name]; got.State != model.StateActive {
		t.Fatalf("new key %+v", got)
	}
	if _, err := os.Stat(res.Key.Path); err != nil {
		t.Fatalf("new material missing: %v", err)
	}

	// Once nothing runs, recovery finds nothing to do.
	promote = orig
	if again, err := other.Recover(ctx); err != nil || !again.Empty() {
		t.Fatalf("Recover = %+v, %v", again, err)
	}
	assertNoStaging(t, f)
}

func TestPromote_AcceptsSameKeyAlreadyInPlace(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	dir := t.TempDir()
	copyMaterial := func(k model.Key, dst string) {
		for _, sfx := range []string{"", ".pub"} {
			data, err := os.ReadFile(k.Path + sfx)
			if err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(dst+sfx, data, 0o600); err != nil {
				t.Fatal(err)
			}
		}
	}

	same := filepath.Join(dir, "same")
	copyMaterial(a, same)
	if err := promoteFiles(same, a.Path); err != nil {
		t.Fatalf("promote onto identical key: %v", err)
	}

	different := filepath.Join(dir, "different")
	copyMaterial(b, different)
	if err := promoteFiles(different, a.Path); !errors.Is(err, errs.ErrIOFault) {
		t.Fatalf("expected ErrIOFault, got %v", err)
	}
	if !matches(a.Path+".pub", a.Fingerprint) {
		t.Fatalf("live material replaced")
	}
}

func TestBackup_SameKeyTwiceRestoresWithoutHanging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "k1")
	if _, err := f.m.Rotate(ctx, RotateRequest{Name: "k1"}); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// The lineage name and the current name are the same key.
	m, path, err := f.m.Backup(ctx, "k1", "k1-rotated-1", "k1")
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if len(m.Entries) != 1 || m.Entries[0].KeyRef != "k1-rotated-1" {
		t.Fatalf("entries %+v", m.Entries)
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.m.Restore(ctx, path, RestoreOptions{Overwrite: true})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Restore: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Restore did not return")
	}
}

func TestSetExpiry_KeepsUnknownRecordFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "k1")
	if _, err := f.st.Write(ctx, func(doc *store.Document) error {
		var keys map[string]map[string]any
		if err := doc.Decode("keys", &keys); err != nil {
			return err
		}
		keys["k1"]["futureField"] = "keep-me"
		return doc.Encode("keys", keys)
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.m.SetExpiry(ctx, "k1", 30); err != nil {
		t.Fatalf("SetExpiry: %v", err)
	}
	doc, err := f.st.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var keys map[string]map[string]any
	if err := doc.Decode("keys", &keys); err != nil {
		t.Fatal(err)
	}
	if keys["k1"]["futureField"] != "keep-me" || keys["k1"]["expiryDays"] != float64(30) {
		t.Fatalf("record after SetExpiry: %v", keys["k1"])
	}
}

func TestRecover_SkipsLockedStagingEvenWhenOld(t *testing.T) {
	f := newFixture(t, func(d *Deps, _ *Options) { d.Clock = SystemClock })
	ctx := context.Background()
	k := f.create(t, "k")

	stage, err := f.m.newStaging()
	if err != nil {
		t.Fatal(err)
	}
	for _, sfx := range []string{"", ".pub"} {
		if err := os.Rename(k.Path+sfx, stage.path("k")+sfx); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stage.dir, past, past); err != nil {
		t.Fatal(err)
	}

	rep, err := f.m.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(rep.Promoted) != 0 || len(rep.Swept) != 0 || len(rep.Warnings) != 0 {
		t.Fatalf("recover touched a locked staging dir: %+v", rep)
	}
	if _, err := os.Stat(stage.path("k")); err != nil {
		t.Fatalf("staged material gone: %v", err)
	}

	stage.release()
	rep, err = f.m.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(rep.Promoted) != 1 {
		t.Fatalf("abandoned staging not recovered: %+v", rep)
	}
	if !matches(k.Path+".pub", k.Fingerprint) {
		t.Fatalf("material not back in place")
	}
}
