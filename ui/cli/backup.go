// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyctl/internal/core"
	"github.com/toeirei/keyctl/internal/i18n"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup [name...]",
		Short: "Write an encrypted backup of keys",
		Long: `Encrypt the named keys, or every managed key when none are named, into a
new backup below the backup directory. The passphrase is read from
KEYCTL_BACKUP_PASSPHRASE or prompted for.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, path, err := manager.Backup(cmd.Context(), args...)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "backup.count", len(m.Entries))
			printf(cmd.OutOrStdout(), "backup.written", path)
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "list",
		Short:       "List committed backups",
		Annotations: readOnly(),
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := manager.ListBackups()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				printf(out, "backup.none")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, l := range list {
				rows = append(rows, []string{formatTime(&l.CreatedAt), strings.Join(l.Keys, ", "), l.Path})
			}
			renderTable(out, []string{i18n.T("col.created"), i18n.T("col.keys"), i18n.T("col.path")}, rows)
			return nil
		},
	})
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "restore <manifest>",
		Short: "Restore keys from a backup",
		Long: `Verify and decrypt a backup and put its keys back in place. Keys whose
material is already present unchanged are skipped. An existing key with the
same name is only replaced with --overwrite, after it has been backed up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := manager.Restore(cmd.Context(), args[0], core.RestoreOptions{Overwrite: overwrite})
			if err != nil {
				return err
			}
			printResult(cmd.ErrOrStderr(), res)
			printf(cmd.OutOrStdout(), "backup.restored", args[0])
			if res.BackupPath != "" {
				printf(cmd.OutOrStdout(), "backup.written", res.BackupPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace existing keys with the same name")
	return cmd
}
