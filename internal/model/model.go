// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model holds the records keyctl persists in its store document and
// in backup manifests.
package model

import (
	"fmt"
	"strings"
	"time"
)

// KeyType is the closed set of supported key algorithms.
type KeyType string

const (
	KeyTypeEd25519 KeyType = "ed25519"
	KeyTypeRSA     KeyType = "rsa"
	KeyTypeECDSA   KeyType = "ecdsa"
)

// ParseKeyType accepts the short names used on the command line.
func ParseKeyType(s string) (KeyType, error) {
	switch KeyType(strings.ToLower(strings.TrimSpace(s))) {
	case KeyTypeEd25519:
		return KeyTypeEd25519, nil
	case KeyTypeRSA:
		return KeyTypeRSA, nil
	case KeyTypeECDSA:
		return KeyTypeECDSA, nil
	}
	return "", fmt.Errorf("unsupported key type %q (want ed25519, rsa or ecdsa)", s)
}

// DefaultBits returns the bit length used when the caller does not pick one.
func (t KeyType) DefaultBits() int {
	switch t {
	case KeyTypeRSA:
		return 4096
	case KeyTypeECDSA:
		return 256
	default:
		return 256
	}
}

// ValidBits reports whether bits is a legal length for t.
func (t KeyType) ValidBits(bits int) bool {
	switch t {
	case KeyTypeEd25519:
		return bits == 256
	case KeyTypeRSA:
		return bits >= 1024 && bits <= 16384
	case KeyTypeECDSA:
		return bits == 256 || bits == 384 || bits == 521
	}
	return false
}

// KeyState is the lifecycle state of a key. Expiring and Expired are never
// stored; they are derived from ExpiresAt when a key is read.
type KeyState string

const (
	StateActive   KeyState = "active"
	StateExpiring KeyState = "expiring"
	StateExpired  KeyState = "expired"
	StateRevoked  KeyState = "revoked"
)

// Key is the metadata record for one managed keypair. The key material
// itself stays on disk at Path (private) and Path+".pub" (public).
type Key struct {
	Name        string     `json:"name"`
	Type        KeyType    `json:"type"`
	Bits        int        `json:"bits"`
	Fingerprint string     `json:"fingerprint"`
	Comment     string     `json:"comment,omitempty"`
	Path        string     `json:"path"`
	Encrypted   bool       `json:"encrypted,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	ExpiryDays  int        `json:"expiryDays,omitempty"`
	State       KeyState   `json:"state"`
	Lineage     string     `json:"lineage,omitempty"`
	Generation  int        `json:"generation,omitempty"`
	ReplacedBy  string     `json:"replacedBy,omitempty"`
	Extra       Extra      `json:"-"`
}

// PublicPath returns the location of the public half.
func (k Key) PublicPath() string { return k.Path + ".pub" }

// EffectiveState classifies the key at now. A key inside the warning window
// is Expiring; at or past ExpiresAt it is Expired.
func (k Key) EffectiveState(now time.Time, window time.Duration) KeyState {
	if k.State == StateRevoked {
		return StateRevoked
	}
	if k.ExpiresAt == nil {
		return StateActive
	}
	if !now.Before(*k.ExpiresAt) {
		return StateExpired
	}
	if k.ExpiresAt.Sub(now) <= window {
		return StateExpiring
	}
	return StateActive
}

// HostConfigEntry binds an ssh client Host pattern to a key.
type HostConfigEntry struct {
	HostPattern string `json:"hostPattern"`
	KeyRef      string `json:"keyRef"`
	HostName    string `json:"hostName,omitempty"`
	User        string `json:"user,omitempty"`
	Port        int    `json:"port,omitempty"`
	Extra       Extra  `json:"-"`
}

// RepoLink binds a local repository to a key. RepoPath is canonical and
// absolute.
type RepoLink struct {
	RepoPath string    `json:"repoPath"`
	KeyRef   string    `json:"keyRef"`
	Provider string    `json:"provider,omitempty"`
	LinkedAt time.Time `json:"linkedAt"`
	Extra    Extra     `json:"-"`
}

// UsageRecord tracks advisory usage statistics. It never gates an operation.
type UsageRecord struct {
	KeyRef     string     `json:"keyRef"`
	FirstUsed  time.Time  `json:"firstUsed"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	UseCount   int        `json:"useCount"`
	Extra      Extra      `json:"-"`
}

// AssocKind tells which half of an Association is populated.
type AssocKind string

const (
	AssocHost AssocKind = "host"
	AssocRepo AssocKind = "repo"
)

// Association is one reference from the outside world to a key.
type Association struct {
	Kind AssocKind
	Host HostConfigEntry
	Repo RepoLink
}

// KeyRef returns the referenced key name regardless of kind.
func (a Association) KeyRef() string {
	if a.Kind == AssocHost {
		return a.Host.KeyRef
	}
	return a.Repo.KeyRef
}

// Target returns the host pattern or repository path.
func (a Association) Target() string {
	if a.Kind == AssocHost {
		return a.Host.HostPattern
	}
	return a.Repo.RepoPath
}

// ManifestVersion is the only manifest format this build reads and writes.
const ManifestVersion = 1

// KDFParams records how the backup keys were derived from the passphrase.
type KDFParams struct {
	Algorithm string `json:"algorithm"`
	Salt      []byte `json:"salt"`
	Time      uint32 `json:"time"`
	Memory    uint32 `json:"memory"`
	Threads   uint8  `json:"threads"`
}

// ManifestEntry describes one encrypted blob. Blob is relative to the
// manifest's directory.
type ManifestEntry struct {
	KeyRef      string `json:"keyRef"`
	Fingerprint string `json:"fingerprint"`
	Blob        string `json:"encryptedBlobPath"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
}

// BackupManifest is immutable once written. Its presence marks the backup
// as committed.
type BackupManifest struct {
	Version   int             `json:"version"`
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	KDF       KDFParams       `json:"kdf"`
	Entries   []ManifestEntry `json:"entries"`
	Digest    string          `json:"integrityDigest"`
}

// AuditEntry is one row of the audit journal.
type AuditEntry struct {
	ID        int64
	Timestamp time.Time
	Username  string
	Action    string
	Key       string
	Details   string
}
