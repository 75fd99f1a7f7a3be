// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package state

import (
	"sync"
	"testing"

	"github.com/toeirei/keyctl/internal/security"
)

func TestPassphraseMailbox_SetGetClear(t *testing.T) {
	PassphraseCache.Clear()

	if got := PassphraseCache.Get(); got != nil {
		t.Fatalf("expected nil on empty cache")
	}

	PassphraseCache.Set(security.FromString("s3cr3t"))
	got := PassphraseCache.Get()
	if string(got.Bytes()) != "s3cr3t" {
		t.Fatalf("unexpected cached value")
	}

	// Mutating the returned copy must not leak into the cache.
	got[0] = 'X'
	if again := PassphraseCache.Get(); again[0] == 'X' {
		t.Fatalf("cache returned its internal slice")
	}

	PassphraseCache.Clear()
	if got := PassphraseCache.Get(); got != nil {
		t.Fatalf("expected nil after Clear")
	}
}

func TestPassphraseMailbox_ConcurrentAccess(t *testing.T) {
	PassphraseCache.Clear()
	defer PassphraseCache.Clear()
	PassphraseCache.Set(security.FromString("concurrent"))

	var wg sync.WaitGroup
	fail := make(chan struct{}, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if PassphraseCache.Get() == nil {
					fail <- struct{}{}
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		PassphraseCache.Set(security.FromString("updated"))
	}()
	wg.Wait()
	close(fail)
	if len(fail) > 0 {
		t.Fatalf("reader observed empty cache during concurrent Set")
	}
}
