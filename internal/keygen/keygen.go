// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package keygen produces keypairs at a staging location. Two backends exist:
// the builtin one using golang.org/x/crypto/ssh, and one shelling out to
// ssh-keygen for operators who want OpenSSH to mint their keys.
package keygen

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	kssh "github.com/toeirei/keyctl/internal/crypto/ssh"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/security"
)

// Backend names accepted by New.
const (
	BackendBuiltin   = "builtin"
	BackendSSHKeygen = "ssh-keygen"
)

// Request describes the keypair to produce. The private key is written to
// Dir/Name and the public key to Dir/Name.pub.
type Request struct {
	Name       string
	Type       model.KeyType
	Bits       int
	Comment    string
	Passphrase security.Secret
	Dir        string
}

// Path returns the private key path the request will produce.
func (r Request) Path() string { return filepath.Join(r.Dir, r.Name) }

// Generator creates keypairs.
type Generator interface {
	Generate(ctx context.Context, req Request) error
}

// New returns the generator for backend. sshKeygenPath is only used by the
// ssh-keygen backend and defaults to looking up ssh-keygen in PATH.
func New(backend, sshKeygenPath string) (Generator, error) {
	switch backend {
	case "", BackendBuiltin:
		return Builtin{}, nil
	case BackendSSHKeygen:
		if sshKeygenPath == "" {
			sshKeygenPath = "ssh-keygen"
		}
		return &SSHKeygen{Path: sshKeygenPath}, nil
	}
	return nil, fmt.Errorf("unknown keygen backend %q", backend)
}

// Builtin generates keys in-process.
type Builtin struct{}

// Generate honours ctx cancellation even though RSA generation itself
// cannot be interrupted: a late result is discarded.
func (Builtin) Generate(ctx context.Context, req Request) error {
	type result struct {
		pub, priv []byte
		err       error
	}
	done := make(chan result, 1)
	go func() {
		pub, priv, err := kssh.GenerateKeyPair(req.Type, req.Bits, req.Comment, req.Passphrase)
		done <- result{pub, priv, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return res.err
	}
	defer security.Wipe(res.priv)

	path := req.Path()
	if err := writeExclusive(path, res.priv, security.PrivateMode); err != nil {
		return err
	}
	if err := writeExclusive(path+".pub", res.pub, security.PublicMode); err != nil {
		_ = security.WipeFile(path)
		return err
	}
	return nil
}

func writeExclusive(path string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Runner executes an external command. Tests replace it.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// SSHKeygen runs the OpenSSH ssh-keygen binary.
type SSHKeygen struct {
	Path string
	Run  Runner
}

// Args returns the ssh-keygen argument list for req.
func (g *SSHKeygen) Args(req Request) []string {
	args := []string{"-q", "-t", string(req.Type)}
	if req.Type != model.KeyTypeEd25519 && req.Bits > 0 {
		args = append(args, "-b", strconv.Itoa(req.Bits))
	}
	args = append(args, "-C", req.Comment, "-N", string(req.Passphrase), "-f", req.Path())
	return args
}

// Generate runs ssh-keygen under ctx.
func (g *SSHKeygen) Generate(ctx context.Context, req Request) error {
	run := g.Run
	if run == nil {
		run = execRunner
	}
	out, err := run(ctx, g.Path, g.Args(req)...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %s", g.Path, err, out)
	}
	if _, err := os.Stat(req.Path() + ".pub"); err != nil {
		return fmt.Errorf("%s produced no public key: %w", g.Path, err)
	}
	return nil
}
