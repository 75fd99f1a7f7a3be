// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Command keyctl manages the lifecycle of local SSH keys and everything that
// refers to them.
package main

import (
	"fmt"
	"os"

	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(errs.ExitCode(err))
	}
}
