//go:build !windows

// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package agent

import (
	"net"
	"os"

	"golang.org/x/crypto/ssh/agent"
)

// getSSHAgent connects to the agent socket named by SSH_AUTH_SOCK.
func getSSHAgent() agent.Agent {
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			return agent.NewClient(conn)
		}
	}
	return nil
}
