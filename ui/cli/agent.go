// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyctl/internal/agent"
	"github.com/toeirei/keyctl/internal/core"
	kssh "github.com/toeirei/keyctl/internal/crypto/ssh"
	"github.com/toeirei/keyctl/internal/i18n"
	"github.com/toeirei/keyctl/internal/security"
)

type agentClient interface {
	core.Agent
	RemoveAll() error
}

// connectAgent is swapped out in tests.
var connectAgent = func() (agentClient, error) { return agent.Connect() }

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Load keys into the running ssh-agent",
	}

	var lifetime time.Duration
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a key to the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connectAgent()
			if err != nil {
				return err
			}
			res, err := manager.LoadIntoAgent(cmd.Context(), a, args[0], nil, lifetime)
			if err != nil && kssh.IsPassphraseMissing(err) {
				var pass security.Secret
				if pass, err = readSecret(cmd, i18n.T("prompt.key_unlock", args[0])); err != nil {
					return err
				}
				defer pass.Zero()
				res, err = manager.LoadIntoAgent(cmd.Context(), a, args[0], pass, lifetime)
			}
			if err != nil {
				return err
			}
			printResult(cmd.ErrOrStderr(), res)
			printf(cmd.OutOrStdout(), "agent.added", res.Key.Name)
			return nil
		},
	}
	add.Flags().DurationVarP(&lifetime, "lifetime", "t", 0, "Remove the key from the agent after this long")

	remove := &cobra.Command{
		Use:   "remove [name]",
		Short: "Remove a key, or every key, from the agent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connectAgent()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				if err := a.RemoveAll(); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "agent.cleared")
				return nil
			}
			if err := manager.RemoveFromAgent(cmd.Context(), a, args[0]); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "agent.removed", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, remove)
	return cmd
}
