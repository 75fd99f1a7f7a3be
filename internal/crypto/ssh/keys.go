// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package ssh wraps golang.org/x/crypto/ssh for the key formats keyctl
// writes and reads: OpenSSH private keys and authorized_keys public lines.
package ssh // import "github.com/toeirei/keyctl/internal/crypto/ssh"

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/toeirei/keyctl/internal/model"
	"golang.org/x/crypto/ssh"
)

// FingerprintSHA256 returns the SHA256 fingerprint of the public key.
var FingerprintSHA256 = ssh.FingerprintSHA256

// GenerateKeyPair creates a keypair of type t and returns the public key as
// an authorized_keys line and the private key in OpenSSH PEM format. A
// non-empty passphrase encrypts the private key.
func GenerateKeyPair(t model.KeyType, bits int, comment string, passphrase []byte) (pub []byte, priv []byte, err error) {
	var (
		signer crypto.PrivateKey
		public crypto.PublicKey
	)
	switch t {
	case model.KeyTypeEd25519:
		p, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
		}
		signer, public = k, p
	case model.KeyTypeRSA:
		k, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate rsa-%d key pair: %w", bits, err)
		}
		signer, public = k, &k.PublicKey
	case model.KeyTypeECDSA:
		curve, err := curveFor(bits)
		if err != nil {
			return nil, nil, err
		}
		k, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate ecdsa-%d key pair: %w", bits, err)
		}
		signer, public = k, &k.PublicKey
	default:
		return nil, nil, fmt.Errorf("unsupported key type %q", t)
	}

	sshPub, err := ssh.NewPublicKey(public)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	if comment != "" {
		line += " " + comment
	}
	pub = []byte(line + "\n")

	var block *pem.Block
	if len(passphrase) == 0 {
		block, err = ssh.MarshalPrivateKey(signer, comment)
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(signer, comment, passphrase)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pub, pem.EncodeToMemory(block), nil
}

func curveFor(bits int) (elliptic.Curve, error) {
	switch bits {
	case 256:
		return elliptic.P256(), nil
	case 384:
		return elliptic.P384(), nil
	case 521:
		return elliptic.P521(), nil
	}
	return nil, fmt.Errorf("unsupported ecdsa curve size %d", bits)
}

// PublicKeyInfo is what keyctl needs to know about a public key.
type PublicKeyInfo struct {
	Key         ssh.PublicKey
	Algorithm   string
	Bits        int
	Fingerprint string
	Comment     string
}

// ParsePublicKey parses one authorized_keys line.
func ParsePublicKey(data []byte) (PublicKeyInfo, error) {
	pk, comment, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return PublicKeyInfo{}, fmt.Errorf("parse public key: %w", err)
	}
	return PublicKeyInfo{
		Key:         pk,
		Algorithm:   pk.Type(),
		Bits:        bitLength(pk),
		Fingerprint: ssh.FingerprintSHA256(pk),
		Comment:     comment,
	}, nil
}

func bitLength(pk ssh.PublicKey) int {
	ck, ok := pk.(ssh.CryptoPublicKey)
	if !ok {
		return 0
	}
	switch k := ck.CryptoPublicKey().(type) {
	case *rsa.PublicKey:
		return k.N.BitLen()
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case ed25519.PublicKey:
		return 256
	}
	return 0
}

// Family maps an ssh algorithm name onto the short family name
// ("ed25519", "rsa", "ecdsa", "dsa"), or "" when unrecognized.
func Family(algorithm string) string {
	switch {
	case algorithm == ssh.KeyAlgoED25519:
		return "ed25519"
	case algorithm == ssh.KeyAlgoRSA:
		return "rsa"
	case strings.HasPrefix(algorithm, "ecdsa-sha2-"):
		return "ecdsa"
	case algorithm == "ssh-dss":
		return "dsa"
	}
	return ""
}

// PublicFromPrivate derives the authorized_keys line from a private key. An
// encrypted key needs its passphrase.
func PublicFromPrivate(priv, passphrase []byte, comment string) ([]byte, error) {
	var (
		raw crypto.PrivateKey
		err error
	)
	if len(passphrase) == 0 {
		raw, err = ssh.ParseRawPrivateKey(priv)
	} else {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(priv, passphrase)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(raw)
	if err != nil {
		return nil, fmt.Errorf("signer from key: %w", err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))
	if comment != "" {
		line += " " + comment
	}
	return []byte(line + "\n"), nil
}

// IsPassphraseMissing reports whether err came from parsing an encrypted key
// without its passphrase.
func IsPassphraseMissing(err error) bool {
	var pm *ssh.PassphraseMissingError
	return errors.As(err, &pm)
}
