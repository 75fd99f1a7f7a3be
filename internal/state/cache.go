// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package state holds keyctl's in-memory state: the typed Snapshot view of
// the store document, and a process-local cache for the backup passphrase so
// one invocation prompts at most once.
package state

import (
	"sync"

	"github.com/toeirei/keyctl/internal/security"
)

// PassphraseCache keeps the backup passphrase for the lifetime of the
// process. Values are copied in and out so callers can zero their own slices.
var PassphraseCache = &passphraseMailbox{}

type passphraseMailbox struct {
	mu    sync.RWMutex
	value security.Secret
}

// Set stores a copy of pass, replacing and zeroing any previous value.
func (p *passphraseMailbox) Set(pass security.Secret) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value.Zero()
	if pass == nil {
		p.value = nil
		return
	}
	p.value = security.FromBytes(pass)
}

// Get returns a copy of the cached passphrase, or nil.
func (p *passphraseMailbox) Get() security.Secret {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.value == nil {
		return nil
	}
	return security.FromBytes(p.value)
}

// Clear zeroes and drops the cached value.
func (p *passphraseMailbox) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value.Zero()
	p.value = nil
}
