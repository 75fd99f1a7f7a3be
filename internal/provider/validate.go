// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrAuthFailed means the provider did not greet us as an authenticated user.
var ErrAuthFailed = errors.New("provider rejected key")

// DefaultMessages are the greetings printed by well-known providers after a
// successful `ssh -T`.
var DefaultMessages = map[string]string{
	"github.com":    "successfully authenticated",
	"gitlab.com":    "Welcome to GitLab",
	"bitbucket.org": "logged in as",
}

// Validator checks a provider login with `ssh -T`.
type Validator struct {
	SSHPath  string
	Messages map[string]string
	Timeout  time.Duration
	Run      Runner
}

// NewValidator returns a Validator that merges messages over the defaults.
func NewValidator(messages map[string]string, timeout time.Duration) *Validator {
	m := make(map[string]string, len(DefaultMessages)+len(messages))
	for k, v := range DefaultMessages {
		m[k] = v
	}
	for k, v := range messages {
		if v != "" {
			m[strings.ToLower(k)] = v
		}
	}
	return &Validator{SSHPath: "ssh", Messages: m, Timeout: timeout, Run: ExecRunner}
}

// Args builds the ssh argument list for host and keyPath.
func (v *Validator) Args(host, keyPath string) []string {
	return []string{
		"-T",
		"-i", keyPath,
		"-o", "IdentitiesOnly=yes",
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=accept-new",
		"git@" + host,
	}
}

// Validate runs the check. Providers exit non-zero even on success, so the
// verdict comes from the greeting; without a known greeting a zero exit
// status counts as success.
func (v *Validator) Validate(ctx context.Context, host, keyPath string) (string, error) {
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}
	out, err := v.Run(ctx, Cmd{Name: v.SSHPath, Args: v.Args(host, keyPath)})
	text := strings.TrimSpace(string(out))
	if ctx.Err() != nil {
		return text, fmt.Errorf("validate %s: %w", host, ctx.Err())
	}
	if msg, ok := v.Messages[strings.ToLower(host)]; ok {
		if strings.Contains(strings.ToLower(text), strings.ToLower(msg)) {
			return text, nil
		}
		return text, fmt.Errorf("%w: %s", ErrAuthFailed, host)
	}
	if err != nil {
		return text, fmt.Errorf("%w: %s: %w", ErrAuthFailed, host, err)
	}
	return text, nil
}
