// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	kssh "github.com/toeirei/keyctl/internal/crypto/ssh"
	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/security"
)

var fastArgon = Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1}

func passphrase(p string) PassphraseFunc {
	return func() (security.Secret, error) { return security.FromString(p), nil }
}

func writeKey(t *testing.T, dir, name string) model.Key {
	t.Helper()
	pub, priv, err := kssh.GenerateKeyPair(model.KeyTypeEd25519, 256, name+"@test", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, priv, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path+".pub", pub, 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := kssh.ParsePublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return model.Key{Name: name, Type: model.KeyTypeEd25519, Bits: 256, Fingerprint: info.Fingerprint,
		Path: path, CreatedAt: time.Now().UTC(), State: model.StateActive}
}

func newService(t *testing.T, pass string) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	return New(filepath.Join(root, "backups"), passphrase(pass), WithArgon2(fastArgon)), root
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	svc, root := newService(t, "correct horse")
	ctx := context.Background()
	a := writeKey(t, root, "a")
	b := writeKey(t, root, "b")

	m, path, err := svc.Snapshot(ctx, []model.Key{a, b})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if m.Version != model.ManifestVersion || len(m.Entries) != 2 || m.Digest == "" {
		t.Fatalf("unexpected manifest %+v", m)
	}
	if m.Entries[0].KeyRef != "a" || m.Entries[1].KeyRef != "b" {
		t.Fatalf("entries out of order: %+v", m.Entries)
	}

	set, err := svc.Restore(ctx, path)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	defer set.Zero()
	for i, k := range []model.Key{a, b} {
		wantPriv, _ := os.ReadFile(k.Path)
		got := set.Keys[i]
		if got.Key.Fingerprint != k.Fingerprint || !bytes.Equal(got.Private.Bytes(), wantPriv) {
			t.Fatalf("restored %s differs", k.Name)
		}
	}
}

func TestRestore_TamperedManifest(t *testing.T) {
	svc, root := newService(t, "pw")
	ctx := context.Background()
	_, path, err := svc.Snapshot(ctx, []model.Key{writeKey(t, root, "a")})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	m, _ := ReadManifest(path)
	m.Entries[0].KeyRef = "evil"
	data, _ := json.Marshal(m)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Restore(ctx, path); !errors.Is(err, errs.ErrTampered) {
		t.Fatalf("expected ErrTampered, got %v", err)
	}
}

func TestRestore_TamperedBlob(t *testing.T) {
	svc, root := newService(t, "pw")
	ctx := context.Background()
	m, path, err := svc.Snapshot(ctx, []model.Key{writeKey(t, root, "a")})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	blobPath := filepath.Join(filepath.Dir(path), m.Entries[0].Blob)
	blob, _ := os.ReadFile(blobPath)
	blob[len(blob)-1] ^= 0xff
	if err := os.WriteFile(blobPath, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Restore(ctx, path); !errors.Is(err, errs.ErrTampered) {
		t.Fatalf("expected ErrTampered, got %v", err)
	}
}

func TestRestore_WrongPassphrase(t *testing.T) {
	svc, root := newService(t, "right")
	_, path, err := svc.Snapshot(context.Background(), []model.Key{writeKey(t, root, "a")})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	other := New(svc.Dir(), passphrase("wrong"))
	if _, err := other.Restore(context.Background(), path); !errors.Is(err, errs.ErrTampered) {
		t.Fatalf("expected ErrTampered, got %v", err)
	}
}

func TestRestore_UnknownVersion(t *testing.T) {
	svc, root := newService(t, "pw")
	_, path, err := svc.Snapshot(context.Background(), []model.Key{writeKey(t, root, "a")})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	m, _ := ReadManifest(path)
	m.Version = 99
	data, _ := json.Marshal(m)
	_ = os.WriteFile(path, data, 0o600)
	if _, err := svc.Restore(context.Background(), path); !errors.Is(err, errs.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestSnapshot_NoPassphrase(t *testing.T) {
	svc := New(t.TempDir(), func() (security.Secret, error) { return nil, nil })
	if _, _, err := svc.Snapshot(context.Background(), nil); !errors.Is(err, errs.ErrNoPassphrase) {
		t.Fatalf("expected ErrNoPassphrase, got %v", err)
	}
}

func TestSnapshot_FailureLeavesNoCommittedBackup(t *testing.T) {
	svc, root := newService(t, "pw")
	good := writeKey(t, root, "a")
	missing := model.Key{Name: "gone", Path: filepath.Join(root, "gone")}

	if _, _, err := svc.Snapshot(context.Background(), []model.Key{good, missing}); !errors.Is(err, errs.ErrIOFault) {
		t.Fatalf("expected ErrIOFault, got %v", err)
	}
	list, err := svc.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("aborted snapshot listed: %+v", list)
	}
	entries, _ := os.ReadDir(svc.Dir())
	if len(entries) != 0 {
		t.Fatalf("partial snapshot dir left behind: %v", entries)
	}
}

func TestList_OrdersByCreation(t *testing.T) {
	root := t.TempDir()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := New(filepath.Join(root, "backups"), passphrase("pw"), WithArgon2(fastArgon),
		WithClock(func() time.Time { clock = clock.Add(time.Minute); return clock }))
	k := writeKey(t, root, "a")
	for i := 0; i < 2; i++ {
		if _, _, err := svc.Snapshot(context.Background(), []model.Key{k}); err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
	}
	list, err := svc.List()
	if err != nil || len(list) != 2 {
		t.Fatalf("List = %v, %v", list, err)
	}
	if !list[0].CreatedAt.Before(list[1].CreatedAt) || list[0].Keys[0] != "a" {
		t.Fatalf("unexpected order %+v", list)
	}
}

func TestRestore_RepeatedKeyIsTampered(t *testing.T) {
	svc, root := newService(t, "pw")
	ctx := context.Background()
	_, path, err := svc.Snapshot(ctx, []model.Key{writeKey(t, root, "a"), writeKey(t, root, "b")})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// Re-sign a manifest that lists a twice, as only the passphrase holder could.
	m, _ := ReadManifest(path)
	m.Entries[1] = m.Entries[0]
	kp, err := deriveKeys([]byte("pw"), m.KDF)
	if err != nil {
		t.Fatal(err)
	}
	if m.Digest, err = manifestDigest(kp.mac, m); err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(m)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Restore(ctx, path); !errors.Is(err, errs.ErrTampered) {
		t.Fatalf("expected ErrTampered, got %v", err)
	}
}

func TestSnapshot_RejectsRepeatedKey(t *testing.T) {
	svc, root := newService(t, "pw")
	k := writeKey(t, root, "a")
	if _, _, err := svc.Snapshot(context.Background(), []model.Key{k, k}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if entries, _ := os.ReadDir(svc.Dir()); len(entries) != 0 {
		t.Fatalf("rejected snapshot left %v", entries)
	}
}

func TestDeriveKeys_RejectsExcessiveCost(t *testing.T) {
	salt := bytes.Repeat([]byte{1}, saltSize)
	for _, kdf := range []model.KDFParams{
		{Algorithm: kdfArgon2id, Salt: salt, Time: 1, Memory: maxArgonMemory + 1, Threads: 1},
		{Algorithm: kdfArgon2id, Salt: salt, Time: maxArgonTime + 1, Memory: 8 * 1024, Threads: 1},
	} {
		if _, err := deriveKeys([]byte("pw"), kdf); !errors.Is(err, errs.ErrTampered) {
			t.Fatalf("%+v: expected ErrTampered, got %v", kdf, err)
		}
	}

	svc := New(t.TempDir(), passphrase("pw"), WithArgon2(Argon2Params{Time: 1, Memory: maxArgonMemory * 2, Threads: 1}))
	if svc.argon != DefaultArgon2 {
		t.Fatalf("out-of-range cost accepted: %+v", svc.argon)
	}
}
