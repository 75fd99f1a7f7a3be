// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"sort"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyctl/internal/core"
	"github.com/toeirei/keyctl/internal/i18n"
	"github.com/toeirei/keyctl/internal/model"
)

func newRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Link git repositories to keys",
		Long: `Link local git repositories to managed keys. A linked repository has the
key pinned through core.sshCommand, and the pin follows the key when it is
rotated.`,
	}

	var prov string
	link := &cobra.Command{
		Use:   "link <path> <key>",
		Short: "Pin a key in a repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := manager.LinkRepo(cmd.Context(), model.RepoLink{RepoPath: args[0], KeyRef: args[1], Provider: prov})
			if err != nil {
				return err
			}
			printResult(cmd.ErrOrStderr(), res)
			l := res.Affected[0].Repo
			printf(cmd.OutOrStdout(), "repo.linked", l.RepoPath, l.KeyRef)
			return nil
		},
	}
	link.Flags().StringVar(&prov, "provider", "", "Provider host (detected from remote.origin.url when empty)")

	unlink := &cobra.Command{
		Use:   "unlink <path>",
		Short: "Remove a repository link and its pinned key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := manager.UnlinkRepo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printResult(cmd.ErrOrStderr(), res)
			printf(cmd.OutOrStdout(), "repo.unlinked", res.Affected[0].Repo.RepoPath)
			return nil
		},
	}

	list := &cobra.Command{
		Use:         "list",
		Short:       "List linked repositories",
		Annotations: readOnly(),
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := manager.List(cmd.Context())
			if err != nil {
				return err
			}
			var rows [][]string
			for _, ki := range keys {
				for _, a := range ki.Associations {
					if a.Kind != model.AssocRepo {
						continue
					}
					rows = append(rows, []string{a.Repo.RepoPath, a.Repo.KeyRef, a.Repo.Provider, formatTime(&a.Repo.LinkedAt)})
				}
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				printf(out, "repo.none")
				return nil
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
			renderTable(out, []string{i18n.T("col.repo"), i18n.T("col.key"), i18n.T("col.provider"), i18n.T("col.linked")}, rows)
			return nil
		},
	}

	var req core.CloneRequest
	clone := &cobra.Command{
		Use:   "clone <remote> [dest]",
		Short: "Clone a repository through a managed key and link it",
		Long: `Clone a repository with the given key and link the checkout to it. The
remote is a full URL, or owner/repo together with --provider.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Remote = args[0]
			if len(args) == 2 {
				req.Dest = args[1]
			}
			res, err := manager.CloneRepo(cmd.Context(), req)
			if err != nil {
				return err
			}
			printResult(cmd.ErrOrStderr(), res)
			l := res.Affected[0].Repo
			printf(cmd.OutOrStdout(), "repo.cloned", l.RepoPath)
			printf(cmd.OutOrStdout(), "repo.linked", l.RepoPath, l.KeyRef)
			return nil
		},
	}
	clone.Flags().StringVarP(&req.Key, "key", "k", "", "Key to clone with")
	clone.Flags().StringVar(&req.Provider, "provider", "", "Provider host for owner/repo shorthand")
	clone.Flags().StringVar(&req.Email, "email", "", "Set user.email in the new checkout")
	clone.Flags().StringVar(&req.User, "user", "", "Set user.name in the new checkout")
	_ = clone.MarkFlagRequired("key")

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Re-pin every linked repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := manager.SyncRepos(cmd.Context())
			if err != nil {
				return err
			}
			printResult(cmd.ErrOrStderr(), res)
			printf(cmd.OutOrStdout(), "repo.synced", len(res.Affected))
			return nil
		},
	}

	cmd.AddCommand(link, unlink, list, clone, sync)
	return cmd
}
