// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package backup

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/model"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	kdfArgon2id = "argon2id"
	saltSize    = 16
	keySize     = chacha20poly1305.KeySize

	// Upper bounds accepted from a manifest. They are checked before the
	// digest, which needs the derived key, so they cap what a forged header
	// can make restore spend.
	maxArgonMemory = 1024 * 1024 // KiB
	maxArgonTime   = 16

	maxDecodedBlob = 16 << 20
)

var blobMagic = []byte("KCB1")

// Argon2Params mirrors the argon2id cost settings.
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultArgon2 matches the OWASP-style defaults used elsewhere for
// password hashing.
var DefaultArgon2 = Argon2Params{Time: 3, Memory: 64 * 1024, Threads: 1}

type keyPair struct {
	enc []byte
	mac []byte
}

func (k *keyPair) zero() {
	for i := range k.enc {
		k.enc[i] = 0
	}
	for i := range k.mac {
		k.mac[i] = 0
	}
}

func newKDF(p Argon2Params) (model.KDFParams, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return model.KDFParams{}, fmt.Errorf("generate salt: %w", err)
	}
	return model.KDFParams{Algorithm: kdfArgon2id, Salt: salt, Time: p.Time, Memory: p.Memory, Threads: p.Threads}, nil
}

// deriveKeys stretches the passphrase with argon2id and splits the result
// into independent encryption and MAC keys with HKDF.
func deriveKeys(pass []byte, kdf model.KDFParams) (*keyPair, error) {
	if kdf.Algorithm != kdfArgon2id || len(kdf.Salt) < saltSize ||
		kdf.Time == 0 || kdf.Time > maxArgonTime ||
		kdf.Memory == 0 || kdf.Memory > maxArgonMemory || kdf.Threads == 0 {
		return nil, fmt.Errorf("%w: unusable kdf parameters", errs.ErrTampered)
	}
	master := argon2.IDKey(pass, kdf.Salt, kdf.Time, kdf.Memory, kdf.Threads, keySize)
	defer func() {
		for i := range master {
			master[i] = 0
		}
	}()

	kp := &keyPair{enc: make([]byte, keySize), mac: make([]byte, keySize)}
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, kdf.Salt, []byte("keyctl backup v1 encryption")), kp.enc); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, kdf.Salt, []byte("keyctl backup v1 integrity")), kp.mac); err != nil {
		return nil, fmt.Errorf("derive integrity key: %w", err)
	}
	return kp, nil
}

func blobAAD(keyRef, fingerprint string) []byte {
	return []byte("keyctl/" + keyRef + "/" + fingerprint)
}

// sealBlob compresses then encrypts plaintext. Layout: magic | nonce | ciphertext.
func sealBlob(encKey, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	zw, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}
	compressed := zw.EncodeAll(plaintext, nil)
	_ = zw.Close()

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, len(blobMagic)+len(nonce)+len(compressed)+aead.Overhead())
	out = append(out, blobMagic...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, compressed, aad), nil
}

func openBlob(encKey, blob, aad []byte) ([]byte, error) {
	hdr := len(blobMagic) + chacha20poly1305.NonceSizeX
	if len(blob) < hdr || !bytes.Equal(blob[:len(blobMagic)], blobMagic) {
		return nil, fmt.Errorf("%w: malformed blob header", errs.ErrTampered)
	}
	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := blob[len(blobMagic):hdr]
	compressed, err := aead.Open(nil, nonce, blob[hdr:], aad)
	if err != nil {
		return nil, fmt.Errorf("%w: blob authentication failed", errs.ErrTampered)
	}
	zr, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedBlob))
	if err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}
	defer zr.Close()
	plain, err := zr.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress blob: %w", errs.ErrTampered, err)
	}
	return plain, nil
}

// manifestDigest is HMAC-SHA256 over the manifest with its digest field
// cleared. Blob contents are covered through the per-entry SHA-256.
func manifestDigest(macKey []byte, m model.BackupManifest) (string, error) {
	m.Digest = ""
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, macKey)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func verifyDigest(macKey []byte, m model.BackupManifest) error {
	want, err := manifestDigest(macKey, m)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrTampered, err)
	}
	got, err := hex.DecodeString(m.Digest)
	if err != nil {
		return fmt.Errorf("%w: malformed digest", errs.ErrTampered)
	}
	wantRaw, _ := hex.DecodeString(want)
	if !hmac.Equal(got, wantRaw) {
		return fmt.Errorf("%w: digest mismatch (wrong passphrase or modified backup)", errs.ErrTampered)
	}
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
