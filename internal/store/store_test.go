// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/toeirei/keyctl/internal/errs"
)

func openTemp(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "keyctl.json"), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestWriteRead_RoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.Write(ctx, func(d *Document) error {
		return d.Encode("keys", map[string]string{"work": "ed25519"})
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	doc, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var keys map[string]string
	if err := doc.Decode("keys", &keys); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if keys["work"] != "ed25519" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestWrite_PreservesUnknownSections(t *testing.T) {
	s := openTemp(t)
	seed := `{"future":{"nested":[1,2,3],"flag":true},"keys":{}}`
	if err := os.WriteFile(s.Path(), []byte(seed), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := s.Write(context.Background(), func(d *Document) error {
		return d.Encode("keys", map[string]int{"a": 1})
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	doc, _ := s.Read(context.Background())
	var future struct {
		Nested []int `json:"nested"`
		Flag   bool  `json:"flag"`
	}
	if err := doc.Decode("future", &future); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(future.Nested) != 3 || !future.Flag {
		t.Fatalf("unknown section lost: %+v", future)
	}
}

func TestWrite_MutatorErrorWritesNothing(t *testing.T) {
	s := openTemp(t)
	boom := errors.New("validation failed")
	_, err := s.Write(context.Background(), func(d *Document) error {
		_ = d.Encode("keys", 1)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	if _, err := os.Stat(s.Path()); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("store file must not exist after aborted write: %v", err)
	}
}

func TestWrite_NoChangeSkipsCommit(t *testing.T) {
	s := openTemp(t)
	_, err := s.Write(context.Background(), func(d *Document) error { return nil })
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(s.Path()); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("no-op write created the file")
	}
}

func TestWrite_LockTimeout(t *testing.T) {
	s := openTemp(t, WithLockTimeout(100*time.Millisecond), WithPollInterval(10*time.Millisecond))

	other := flock.New(s.LockPath())
	if ok, err := other.TryLock(); err != nil || !ok {
		t.Fatalf("could not take competing lock: %v", err)
	}
	defer func() { _ = other.Unlock() }()

	start := time.Now()
	_, err := s.Write(context.Background(), func(d *Document) error { return d.Encode("x", 1) })
	if !errors.Is(err, errs.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("lock wait was not bounded")
	}
}

func TestWrite_CommitFailureIsIOFault(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	if _, err := s.Write(ctx, func(d *Document) error { return d.Encode("v", 1) }); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before, _ := os.ReadFile(s.Path())

	prev := writeFile
	writeFile = func(string, []byte, fs.FileMode) error { return errors.New("fsync: input/output error") }
	defer func() { writeFile = prev }()

	_, err := s.Write(ctx, func(d *Document) error { return d.Encode("v", 2) })
	if !errors.Is(err, errs.ErrIOFault) {
		t.Fatalf("expected ErrIOFault, got %v", err)
	}
	after, _ := os.ReadFile(s.Path())
	if string(before) != string(after) {
		t.Fatalf("document changed after failed commit")
	}
}

func TestRead_CorruptDocument(t *testing.T) {
	s := openTemp(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Read(context.Background()); !errors.Is(err, errs.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestWrite_ConcurrentWritersSerialize(t *testing.T) {
	s := openTemp(t, WithLockTimeout(10*time.Second))
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Write(ctx, func(d *Document) error {
				var c int
				if err := d.Decode("counter", &c); err != nil {
					return err
				}
				return d.Encode("counter", c+1)
			})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("writer failed: %v", err)
		}
	}
	doc, _ := s.Read(ctx)
	var c int
	_ = doc.Decode("counter", &c)
	if c != n {
		t.Fatalf("counter = %d, want %d", c, n)
	}
}

func TestDocument_EqualAndClone(t *testing.T) {
	d := NewDocument()
	_ = d.Encode("a", []int{1, 2})
	c := d.Clone()
	if !d.Equal(c) {
		t.Fatalf("clone not equal")
	}
	_ = c.Encode("a", []int{1})
	if d.Equal(c) {
		t.Fatalf("mutating clone affected equality")
	}
	c.Delete("a")
	if c.Has("a") || len(c.Sections()) != 0 {
		t.Fatalf("Delete did not remove section")
	}
}
