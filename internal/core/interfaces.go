// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"time"

	"github.com/toeirei/keyctl/internal/backup"
	"github.com/toeirei/keyctl/internal/model"
)

// Backups is the snapshot service the manager calls before destructive
// transitions.
type Backups interface {
	Snapshot(ctx context.Context, keys []model.Key) (*model.BackupManifest, string, error)
	Restore(ctx context.Context, manifestPath string) (*backup.RestoredSet, error)
	List() ([]backup.Listing, error)
}

// Journal receives one entry per committed transition.
type Journal interface {
	Record(ctx context.Context, action, key, details string) error
}

// Git pins repositories to keys. Optional.
type Git interface {
	RemoteURL(ctx context.Context, repo string) (string, error)
	PinKey(ctx context.Context, repo, keyPath string) error
	UnpinKey(ctx context.Context, repo string) error
	Clone(ctx context.Context, remote, dest, keyPath string) error
	SetIdentity(ctx context.Context, repo, email, name string) error
}

// Validator checks a provider login with a key. Optional.
type Validator interface {
	Validate(ctx context.Context, host, keyPath string) (string, error)
}

// Agent is the subset of the ssh-agent client used by LoadIntoAgent.
type Agent interface {
	Add(privPEM, passphrase []byte, comment string, lifetime time.Duration) error
	Remove(pub []byte) error
}
