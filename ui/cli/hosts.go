// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"strconv"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyctl/internal/i18n"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/sshconfig"
)

// newConfigCmd manages Host blocks in the ssh client config.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Host entries in the ssh config",
	}

	list := &cobra.Command{
		Use:         "list",
		Short:       "List Host blocks in the ssh config",
		Annotations: readOnly(),
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := sshconfig.Load(appConfig.SSHConfig)
			if err != nil {
				return err
			}
			hosts := f.Hosts()
			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				printf(out, "host.none", appConfig.SSHConfig)
				return nil
			}
			rows := make([][]string, 0, len(hosts))
			for _, h := range hosts {
				port := "-"
				if h.Port > 0 {
					port = strconv.Itoa(h.Port)
				}
				rows = append(rows, []string{h.Pattern, h.HostName, h.User, port, h.IdentityFile})
			}
			renderTable(out, []string{i18n.T("col.host"), i18n.T("col.hostname"), i18n.T("col.user"), i18n.T("col.port"), i18n.T("col.identity")}, rows)
			return nil
		},
	}

	var e model.HostConfigEntry
	host := &cobra.Command{
		Use:   "host <pattern> <key>",
		Short: "Point a Host block at a managed key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e.HostPattern, e.KeyRef = args[0], args[1]
			res, err := manager.LinkHost(cmd.Context(), e)
			if err != nil {
				return err
			}
			printResult(cmd.ErrOrStderr(), res)
			printf(cmd.OutOrStdout(), "host.linked", args[0], res.Affected[0].Host.KeyRef)
			return nil
		},
	}
	host.Flags().StringVar(&e.HostName, "hostname", "", "Real host name to connect to")
	host.Flags().StringVar(&e.User, "user", "", "Remote user")
	host.Flags().IntVar(&e.Port, "port", 0, "Remote port")

	remove := &cobra.Command{
		Use:     "remove <pattern>",
		Aliases: []string{"rm"},
		Short:   "Remove a managed Host block",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := manager.UnlinkHost(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printResult(cmd.ErrOrStderr(), res)
			printf(cmd.OutOrStdout(), "host.unlinked", args[0])
			return nil
		},
	}

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Rewrite every managed Host block from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := manager.SyncSSHConfig(cmd.Context())
			if err != nil {
				return err
			}
			printResult(cmd.ErrOrStderr(), res)
			printf(cmd.OutOrStdout(), "host.synced", len(res.Affected), appConfig.SSHConfig)
			return nil
		},
	}

	cmd.AddCommand(list, host, remove, sync)
	return cmd
}
