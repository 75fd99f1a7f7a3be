// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package backup writes and reads encrypted snapshots of key material.
//
// A snapshot is a directory holding one encrypted blob per key plus a
// manifest.json written last; a directory without a manifest is an aborted
// snapshot and is never read. Restore authenticates the manifest and every
// blob before decrypting anything and never touches the file system itself.
package backup

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	kssh "github.com/toeirei/keyctl/internal/crypto/ssh"
	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/fsutil"
	"github.com/toeirei/keyctl/internal/logging"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/security"
)

// ManifestName is the file whose presence commits a snapshot.
const ManifestName = "manifest.json"

// PassphraseFunc supplies the operator passphrase on demand.
type PassphraseFunc func() (security.Secret, error)

// Service creates and restores snapshots below one directory.
type Service struct {
	dir   string
	pass  PassphraseFunc
	argon Argon2Params
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithArgon2 overrides the KDF cost for new snapshots. Settings that
// Restore would refuse are ignored.
func WithArgon2(p Argon2Params) Option {
	return func(s *Service) {
		if p.Time > 0 && p.Time <= maxArgonTime && p.Memory > 0 && p.Memory <= maxArgonMemory && p.Threads > 0 {
			s.argon = p
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New returns a Service storing snapshots in dir.
func New(dir string, pass PassphraseFunc, opts ...Option) *Service {
	s := &Service{dir: dir, pass: pass, argon: DefaultArgon2, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the snapshot root.
func (s *Service) Dir() string { return s.dir }

type payload struct {
	Key     model.Key `json:"key"`
	Private []byte    `json:"private"`
	Public  []byte    `json:"public"`
}

func (s *Service) passphrase() (security.Secret, error) {
	if s.pass == nil {
		return nil, errs.ErrNoPassphrase
	}
	p, err := s.pass()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrNoPassphrase, err)
	}
	if p.Empty() {
		return nil, errs.ErrNoPassphrase
	}
	return p, nil
}

// Snapshot encrypts the material of keys into a new snapshot directory and
// returns the manifest and its path. Blobs are written first and the
// manifest last; on failure the partial directory is removed.
func (s *Service) Snapshot(ctx context.Context, keys []model.Key) (*model.BackupManifest, string, error) {
	pass, err := s.passphrase()
	if err != nil {
		return nil, "", err
	}
	defer pass.Zero()

	kdf, err := newKDF(s.argon)
	if err != nil {
		return nil, "", err
	}
	kp, err := deriveKeys(pass, kdf)
	if err != nil {
		return nil, "", err
	}
	defer kp.zero()

	created := s.now().UTC()
	id := uuid.NewString()
	dir := filepath.Join(s.dir, created.Format("20060102T150405Z")+"-"+id[:8])
	if err := security.EnsureDir(s.dir); err != nil {
		return nil, "", fmt.Errorf("%w: %w", errs.ErrIOFault, err)
	}
	if err := os.Mkdir(dir, security.DirMode); err != nil {
		return nil, "", fmt.Errorf("%w: create snapshot dir: %w", errs.ErrIOFault, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(dir)
		}
	}()

	m := model.BackupManifest{Version: model.ManifestVersion, ID: id, CreatedAt: created, KDF: kdf}
	seen := make(map[string]bool, len(keys))
	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		if seen[k.Name] {
			return nil, "", fmt.Errorf("%w: %s listed twice", errs.ErrInvalidInput, k.Name)
		}
		seen[k.Name] = true
		entry, err := s.writeBlob(dir, i, k, kp.enc)
		if err != nil {
			return nil, "", err
		}
		m.Entries = append(m.Entries, entry)
	}

	if m.Digest, err = manifestDigest(kp.mac, m); err != nil {
		return nil, "", fmt.Errorf("%w: digest: %w", errs.ErrIOFault, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("%w: encode manifest: %w", errs.ErrIOFault, err)
	}
	path := filepath.Join(dir, ManifestName)
	if err := fsutil.WriteFile(path, data, 0o600); err != nil {
		return nil, "", fmt.Errorf("%w: write manifest: %w", errs.ErrIOFault, err)
	}
	committed = true
	logging.Infof("backup: wrote %d key(s) to %s", len(m.Entries), dir)
	return &m, path, nil
}

func (s *Service) writeBlob(dir string, i int, k model.Key, encKey []byte) (model.ManifestEntry, error) {
	priv, err := os.ReadFile(k.Path)
	if err != nil {
		return model.ManifestEntry{}, fmt.Errorf("%w: read %s: %w", errs.ErrIOFault, k.Path, err)
	}
	defer security.Wipe(priv)
	pub, err := os.ReadFile(k.PublicPath())
	if err != nil {
		return model.ManifestEntry{}, fmt.Errorf("%w: read %s: %w", errs.ErrIOFault, k.PublicPath(), err)
	}

	plain, err := json.Marshal(payload{Key: k, Private: priv, Public: pub})
	if err != nil {
		return model.ManifestEntry{}, fmt.Errorf("%w: encode payload: %w", errs.ErrIOFault, err)
	}
	defer security.Wipe(plain)

	blob, err := sealBlob(encKey, plain, blobAAD(k.Name, k.Fingerprint))
	if err != nil {
		return model.ManifestEntry{}, fmt.Errorf("%w: %w", errs.ErrIOFault, err)
	}
	name := fmt.Sprintf("%03d-%s.blob", i, k.Name)
	if err := fsutil.WriteFile(filepath.Join(dir, name), blob, 0o600); err != nil {
		return model.ManifestEntry{}, fmt.Errorf("%w: write blob: %w", errs.ErrIOFault, err)
	}
	return model.ManifestEntry{
		KeyRef:      k.Name,
		Fingerprint: k.Fingerprint,
		Blob:        name,
		Size:        int64(len(blob)),
		SHA256:      sha256Hex(blob),
	}, nil
}

// RestoredKey is one decrypted entry. Private must be zeroed by the caller.
type RestoredKey struct {
	Key     model.Key
	Private security.Secret
	Public  []byte
}

// RestoredSet is the verified, decrypted content of a snapshot.
type RestoredSet struct {
	Manifest model.BackupManifest
	Path     string
	Keys     []RestoredKey
}

// Zero wipes all decrypted private material.
func (r *RestoredSet) Zero() {
	for i := range r.Keys {
		r.Keys[i].Private.Zero()
	}
}

// ReadManifest parses a manifest without verifying it.
func ReadManifest(path string) (model.BackupManifest, error) {
	var m model.BackupManifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("%w: read manifest: %w", errs.ErrIOFault, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: parse manifest: %w", errs.ErrTampered, err)
	}
	return m, nil
}

// Restore verifies and decrypts the snapshot at manifestPath. Nothing is
// decrypted until the manifest digest and every blob hash check out.
func (s *Service) Restore(ctx context.Context, manifestPath string) (*RestoredSet, error) {
	m, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	if m.Version != model.ManifestVersion {
		return nil, fmt.Errorf("%w: %d", errs.ErrUnsupportedVersion, m.Version)
	}

	pass, err := s.passphrase()
	if err != nil {
		return nil, err
	}
	defer pass.Zero()
	kp, err := deriveKeys(pass, m.KDF)
	if err != nil {
		return nil, err
	}
	defer kp.zero()

	if err := verifyDigest(kp.mac, m); err != nil {
		return nil, err
	}

	dir := filepath.Dir(manifestPath)
	blobs := make([][]byte, len(m.Entries))
	seen := make(map[string]bool, len(m.Entries))
	for i, e := range m.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if seen[e.KeyRef] {
			return nil, fmt.Errorf("%w: entry %d repeats key %q", errs.ErrTampered, i, e.KeyRef)
		}
		seen[e.KeyRef] = true
		if e.Blob == "" || e.Blob != filepath.Base(e.Blob) || strings.Contains(e.Blob, "..") {
			return nil, fmt.Errorf("%w: entry %d has unsafe blob path %q", errs.ErrTampered, i, e.Blob)
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Blob))
		if err != nil {
			return nil, fmt.Errorf("%w: blob %s: %w", errs.ErrTampered, e.Blob, err)
		}
		if subtle.ConstantTimeCompare([]byte(sha256Hex(data)), []byte(e.SHA256)) != 1 {
			return nil, fmt.Errorf("%w: blob %s hash mismatch", errs.ErrTampered, e.Blob)
		}
		blobs[i] = data
	}

	set := &RestoredSet{Manifest: m, Path: manifestPath}
	for i, e := range m.Entries {
		rk, err := decodeEntry(kp.enc, e, blobs[i])
		if err != nil {
			set.Zero()
			return nil, err
		}
		set.Keys = append(set.Keys, rk)
	}
	return set, nil
}

func decodeEntry(encKey []byte, e model.ManifestEntry, blob []byte) (RestoredKey, error) {
	plain, err := openBlob(encKey, blob, blobAAD(e.KeyRef, e.Fingerprint))
	if err != nil {
		return RestoredKey{}, err
	}
	defer security.Wipe(plain)

	var p payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return RestoredKey{}, fmt.Errorf("%w: decode payload: %w", errs.ErrTampered, err)
	}
	info, err := kssh.ParsePublicKey(p.Public)
	if err != nil || p.Key.Name != e.KeyRef || info.Fingerprint != e.Fingerprint || p.Key.Fingerprint != e.Fingerprint {
		security.Wipe(p.Private)
		return RestoredKey{}, fmt.Errorf("%w: entry %s does not match its manifest record", errs.ErrTampered, e.KeyRef)
	}
	return RestoredKey{Key: p.Key, Private: security.Secret(p.Private), Public: p.Public}, nil
}

// Listing summarizes a committed snapshot.
type Listing struct {
	Path      string
	ID        string
	CreatedAt time.Time
	Keys      []string
}

// List returns committed snapshots, oldest first. Directories without a
// manifest are skipped.
func (s *Service) List() ([]Listing, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list backups: %w", errs.ErrIOFault, err)
	}
	var out []Listing
	for _, d := range entries {
		if !d.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, d.Name(), ManifestName)
		m, err := ReadManifest(path)
		if err != nil {
			continue
		}
		l := Listing{Path: path, ID: m.ID, CreatedAt: m.CreatedAt}
		for _, e := range m.Entries {
			l.Keys = append(l.Keys, e.KeyRef)
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
