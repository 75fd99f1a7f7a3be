// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package agent loads managed keys into, and removes them from, the
// operator's running ssh-agent.
package agent

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// ErrNoAgent is returned when no agent could be reached.
var ErrNoAgent = errors.New("no ssh-agent available")

// dial is the platform agent lookup; tests replace it.
var dial = getSSHAgent

// Client wraps an agent connection.
type Client struct {
	a agent.Agent
}

// Connect locates the running agent.
func Connect() (*Client, error) {
	a := dial()
	if a == nil {
		return nil, ErrNoAgent
	}
	return &Client{a: a}, nil
}

// New wraps an existing agent, e.g. agent.NewKeyring in tests.
func New(a agent.Agent) *Client { return &Client{a: a} }

// Add parses privPEM (decrypting with passphrase when given) and hands the
// key to the agent. A zero lifetime keeps the key until removed.
func (c *Client) Add(privPEM, passphrase []byte, comment string, lifetime time.Duration) error {
	var (
		raw any
		err error
	)
	if len(passphrase) > 0 {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(privPEM, passphrase)
	} else {
		raw, err = ssh.ParseRawPrivateKey(privPEM)
	}
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	added := agent.AddedKey{PrivateKey: raw, Comment: comment}
	if lifetime > 0 {
		added.LifetimeSecs = uint32(lifetime / time.Second)
	}
	if err := c.a.Add(added); err != nil {
		return fmt.Errorf("agent add: %w", err)
	}
	return nil
}

// Remove drops the key whose authorized_keys form is pub.
func (c *Client) Remove(pub []byte) error {
	pk, _, _, _, err := ssh.ParseAuthorizedKey(pub)
	if err != nil {
		return fmt.Errorf("parse public key: %w", err)
	}
	if err := c.a.Remove(pk); err != nil {
		return fmt.Errorf("agent remove: %w", err)
	}
	return nil
}

// RemoveAll empties the agent.
func (c *Client) RemoveAll() error {
	if err := c.a.RemoveAll(); err != nil {
		return fmt.Errorf("agent remove all: %w", err)
	}
	return nil
}

// Loaded reports whether pub is currently held by the agent.
func (c *Client) Loaded(pub []byte) (bool, error) {
	pk, _, _, _, err := ssh.ParseAuthorizedKey(pub)
	if err != nil {
		return false, fmt.Errorf("parse public key: %w", err)
	}
	keys, err := c.a.List()
	if err != nil {
		return false, fmt.Errorf("agent list: %w", err)
	}
	want := pk.Marshal()
	for _, k := range keys {
		if string(k.Blob) == string(want) {
			return true, nil
		}
	}
	return false, nil
}
