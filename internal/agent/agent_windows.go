//go:build windows

// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package agent

import (
	"net"
	"os"

	"github.com/Microsoft/go-winio"
	"github.com/davidmz/go-pageant"
	"golang.org/x/crypto/ssh/agent"
)

const openSSHPipe = `\\.\pipe\openssh-ssh-agent`

// getSSHAgent prefers a Pageant-compatible agent, then the OpenSSH named pipe.
func getSSHAgent() agent.Agent {
	if pageant.Available() {
		return pageant.New()
	}
	pipe := os.Getenv("SSH_AUTH_SOCK")
	if pipe == "" {
		pipe = openSSHPipe
	}
	var conn net.Conn
	conn, err := winio.DialPipe(pipe, nil)
	if err == nil && conn != nil {
		return agent.NewClient(conn)
	}
	return nil
}
