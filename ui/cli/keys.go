// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"github.com/toeirei/keyctl/internal/core"
	"github.com/toeirei/keyctl/internal/i18n"
	"github.com/toeirei/keyctl/internal/model"
	"github.com/toeirei/keyctl/internal/security"
)

// copyToClipboard is swapped out in tests.
var copyToClipboard = clipboard.WriteAll

func newCreateCmd() *cobra.Command {
	var (
		keyType string
		bits    int
		comment string
		days    int
		ask     bool
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Generate a new key pair",
		Long: `Generate a new key pair in the ssh directory. The key is checked by the
security analyzer before it is committed; material rated critical is never
admitted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyType == "" {
				keyType = appConfig.Keys.DefaultType
			}
			t, err := model.ParseKeyType(keyType)
			if err != nil {
				return err
			}
			if comment == "" {
				comment = appConfig.Keys.DefaultComment
			}
			var pass security.Secret
			if ask {
				if pass, err = readNewSecret(cmd); err != nil {
					return err
				}
				defer pass.Zero()
			}
			res, err := manager.Create(cmd.Context(), core.CreateRequest{
				Name: args[0], Type: t, Bits: bits, Comment: comment, ExpiryDays: days, Passphrase: pass,
			})
			if err != nil {
				return err
			}
			printResult(cmd.ErrOrStderr(), res)
			printf(cmd.OutOrStdout(), "key.created", res.Key.Name)
			printf(cmd.OutOrStdout(), "key.fingerprint", res.Key.Fingerprint)
			if res.Report != nil {
				printf(cmd.OutOrStdout(), "key.score", res.Report.Score)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyType, "type", "t", "", "Key type: ed25519, rsa or ecdsa (default from config)")
	cmd.Flags().IntVarP(&bits, "bits", "b", 0, "Key size in bits (default depends on type)")
	cmd.Flags().StringVarP(&comment, "comment", "C", "", "Key comment")
	cmd.Flags().IntVar(&days, "expire", 0, fmt.Sprintf("Expire after this many days (%d-%d)", core.MinExpiryDays, core.MaxExpiryDays))
	cmd.Flags().BoolVarP(&ask, "passphrase", "p", false, "Prompt for a passphrase to encrypt the private key")
	return cmd
}

func newListCmd() *cobra.Command {
	var details bool
	cmd := &cobra.Command{
		Use:         "list",
		Aliases:     []string{"ls"},
		Short:       "List managed keys",
		Annotations: readOnly(),
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := manager.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				printf(out, "key.none")
				return nil
			}
			headers := []string{i18n.T("col.name"), i18n.T("col.type"), i18n.T("col.state"), i18n.T("col.expires"), i18n.T("col.links")}
			if details {
				headers = append(headers, i18n.T("col.fingerprint"), i18n.T("col.mode"), i18n.T("col.last_used"))
			}
			rows := make([][]string, 0, len(keys))
			for _, ki := range keys {
				row := []string{
					ki.Key.Name,
					fmt.Sprintf("%s-%d", ki.Key.Type, ki.Key.Bits),
					stateLabel(out, ki.State),
					formatDate(ki.Key.ExpiresAt),
					strconv.Itoa(len(ki.Associations)),
				}
				if details {
					mode := ki.Mode.String()
					if ki.Missing {
						mode = i18n.T("key.missing")
					}
					row = append(row, ki.Key.Fingerprint, mode, formatTime(ki.Usage.LastUsedAt))
				}
				rows = append(rows, row)
			}
			renderTable(out, headers, rows)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&details, "details", "d", false, "Show fingerprint, permissions and last use")
	return cmd
}

func newShowCmd() *cobra.Command {
	var copyPub bool
	cmd := &cobra.Command{
		Use:         "show <name>",
		Short:       "Show one key and its public half",
		Annotations: readOnly(),
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ki, err := manager.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			k := ki.Key
			rows := [][]string{
				{i18n.T("col.name"), k.Name},
				{i18n.T("col.type"), fmt.Sprintf("%s-%d", k.Type, k.Bits)},
				{i18n.T("col.fingerprint"), k.Fingerprint},
				{i18n.T("col.comment"), k.Comment},
				{i18n.T("col.path"), k.Path},
				{i18n.T("col.state"), stateLabel(out, ki.State)},
				{i18n.T("col.created"), formatTime(&k.CreatedAt)},
				{i18n.T("col.expires"), formatDate(k.ExpiresAt)},
				{i18n.T("col.last_used"), formatTime(ki.Usage.LastUsedAt)},
				{i18n.T("col.uses"), strconv.Itoa(ki.Usage.UseCount)},
			}
			if k.Lineage != "" {
				rows = append(rows, []string{i18n.T("col.lineage"), fmt.Sprintf("%s #%d", k.Lineage, k.Generation)})
			}
			if ki.Missing {
				rows = append(rows, []string{i18n.T("col.mode"), i18n.T("key.missing")})
			} else {
				rows = append(rows, []string{i18n.T("col.mode"), ki.Mode.String()})
			}
			for _, a := range ki.Associations {
				rows = append(rows, []string{i18n.T("col.link"), string(a.Kind) + " " + a.Target()})
			}
			renderTable(out, []string{"", ""}, rows)

			pub, err := manager.PublicKey(cmd.Context(), k.Name)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, strings.TrimSpace(string(pub)))
			if copyPub {
				if err := copyToClipboard(strings.TrimSpace(string(pub))); err != nil {
					return fmt.Errorf("%s: %w", i18n.T("key.copy_failed"), err)
				}
				printf(cmd.ErrOrStderr(), "key.copied")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&copyPub, "copy", "c", false, "Copy the public key to the clipboard")
	return cmd
}

func newRotateCmd() *cobra.Command {
	var ask bool
	cmd := &cobra.Command{
		Use:   "rotate <name>",
		Short: "Replace a key with fresh material",
		Long: `Generate a replacement for a key, move every host entry and repository
link to it and retire the old key. The old key is backed up first and
securely erased afterwards. The key keeps answering to its original name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pass security.Secret
			if ask {
				var err error
				if pass, err = readNewSecret(cmd); err != nil {
					return err
				}
				defer pass.Zero()
			}
			res, err := manager.Rotate(cmd.Context(), core.RotateRequest{Name: args[0], Passphrase: pass})
			if err != nil {
				return err
			}
			printResult(cmd.ErrOrStderr(), res)
			out := cmd.OutOrStdout()
			printf(out, "key.rotated", res.Previous.Name, res.Key.Name)
			printf(out, "key.fingerprint", res.Key.Fingerprint)
			printf(out, "key.repointed", len(res.Affected))
			printf(out, "backup.written", res.BackupPath)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&ask, "passphrase", "p", false, "Prompt for a passphrase to encrypt the new private key")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var cascade, yes bool
	cmd := &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Back up and securely delete a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd, i18n.T("key.delete_confirm", args[0])) {
				printf(cmd.ErrOrStderr(), "common.aborted")
				return nil
			}
			res, err := manager.Delete(cmd.Context(), args[0], core.DeleteOptions{Cascade: cascade})
			if err != nil {
				return err
			}
			printResult(cmd.ErrOrStderr(), res)
			printf(cmd.OutOrStdout(), "key.deleted", res.Key.Name)
			if len(res.Affected) > 0 {
				printf(cmd.OutOrStdout(), "key.detached", len(res.Affected))
			}
			printf(cmd.OutOrStdout(), "backup.written", res.BackupPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "Also remove host entries and repository links using the key")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newExpireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Manage key expiry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> <days>",
		Short: "Expire a key after a number of days",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("%s: %q", i18n.T("expiry.bad_days"), args[1])
			}
			res, err := manager.SetExpiry(cmd.Context(), args[0], days)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "expiry.set", res.Key.Name, formatDate(res.Key.ExpiresAt))
			return nil
		},
	}, &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove the expiry of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := manager.RemoveExpiry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "expiry.removed", res.Key.Name)
			return nil
		},
	}, &cobra.Command{
		Use:         "check",
		Short:       "Show which keys are expiring or expired",
		Annotations: readOnly(),
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := manager.CheckExpiry(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var rows [][]string
			for _, s := range statuses {
				if s.ExpiresAt == nil {
					continue
				}
				rows = append(rows, []string{s.Name, stateLabel(out, s.State), formatDate(s.ExpiresAt), formatRemaining(s.Remaining)})
			}
			if len(rows) == 0 {
				printf(out, "expiry.none")
				return nil
			}
			renderTable(out, []string{i18n.T("col.name"), i18n.T("col.state"), i18n.T("col.expires"), ""}, rows)
			return nil
		},
	})
	return cmd
}
