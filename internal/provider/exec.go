// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package provider talks to git hosting providers through the system ssh and
// git binaries: it validates that a key authenticates and pins repositories
// to a key via core.sshCommand.
package provider

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Cmd is one external command invocation.
type Cmd struct {
	Dir  string
	Env  []string
	Name string
	Args []string
}

func (c Cmd) String() string { return c.Name + " " + strings.Join(c.Args, " ") }

// Runner executes a command and returns its combined output. Tests inject a
// fake; production uses ExecRunner.
type Runner func(ctx context.Context, c Cmd) ([]byte, error)

// ExecRunner runs c with os/exec. Extra environment is appended to the
// current process environment.
func ExecRunner(ctx context.Context, c Cmd) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("%s: %w", c.Name, ctx.Err())
		}
		return out, fmt.Errorf("%s: %w", c.Name, err)
	}
	return out, nil
}

// shellQuote quotes s for the POSIX shell git uses to run core.sshCommand.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
