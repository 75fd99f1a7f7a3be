// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestWipeFile_RemovesFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "id")
	if err := os.WriteFile(p, []byte("PRIVATE KEY MATERIAL"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := WipeFile(p); err != nil {
		t.Fatalf("WipeFile: %v", err)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("file still present")
	}
	if err := WipeFile(p); err != nil {
		t.Fatalf("wiping a missing file should be a no-op: %v", err)
	}
}

func TestWipeFile_OverwriteFailureStillRemoves(t *testing.T) {
	p := filepath.Join(t.TempDir(), "id")
	if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	prev := overwriteFile
	overwriteFile = func(string, int64) error { return errors.New("read-only medium") }
	defer func() { overwriteFile = prev }()

	err := WipeFile(p)
	if !errors.Is(err, ErrOverwriteFailed) {
		t.Fatalf("expected ErrOverwriteFailed, got %v", err)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("file must be removed even when overwrite fails")
	}
}

func TestWipeDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o700); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(dir, "a"), []byte("a"), 0o600)
	_ = os.WriteFile(filepath.Join(dir, "sub", "b"), []byte("b"), 0o600)
	if err := WipeDir(dir); err != nil {
		t.Fatalf("WipeDir: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("dir still present")
	}
}

func TestFixPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	dir := t.TempDir()
	p := filepath.Join(dir, "id")
	_ = os.WriteFile(p, []byte("k"), 0o666)
	_ = os.WriteFile(p+".pub", []byte("k"), 0o666)
	if err := FixPermissions(p); err != nil {
		t.Fatalf("FixPermissions: %v", err)
	}
	if m, _ := Mode(p); m != PrivateMode {
		t.Fatalf("private mode %04o", m)
	}
	if m, _ := Mode(p + ".pub"); m != PublicMode {
		t.Fatalf("public mode %04o", m)
	}
}
