// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyctl/internal/i18n"
)

func newValidateCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "validate <provider>",
		Short: "Check that a provider accepts a key",
		Long: `Open an ssh connection to the provider (github.com, gitlab.com, ...) with
the key and look for the provider's greeting.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			greeting, res, err := manager.ValidateProvider(cmd.Context(), args[0], key)
			if err != nil {
				return err
			}
			printResult(cmd.ErrOrStderr(), res)
			printf(cmd.OutOrStdout(), "validate.ok", res.Key.Name, args[0])
			if greeting != "" {
				fmt.Fprintln(cmd.OutOrStdout(), greeting)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "Key to validate")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "analyze [name...]",
		Short:       "Assess the strength and hygiene of keys",
		Annotations: readOnly(),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := manager.Analyze(cmd.Context(), args...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var rows [][]string
			for _, a := range results {
				if a.Err != nil {
					rows = append(rows, []string{a.Name, "-", errStyleFor(out, a.Err.Error())})
					continue
				}
				if len(a.Report.Findings) == 0 {
					rows = append(rows, []string{a.Name, strconv.Itoa(a.Report.Score), i18n.T("analyze.clean")})
					continue
				}
				for i, f := range a.Report.Findings {
					name, score := a.Name, strconv.Itoa(a.Report.Score)
					if i > 0 {
						name, score = "", ""
					}
					rows = append(rows, []string{name, score, f.Severity.String() + ": " + f.Message})
				}
			}
			if len(rows) == 0 {
				printf(out, "key.none")
				return nil
			}
			renderTable(out, []string{i18n.T("col.name"), i18n.T("col.score"), i18n.T("col.findings")}, rows)
			return nil
		},
	}
}

func errStyleFor(w io.Writer, s string) string {
	if styled(w) {
		return errStyle.Render(s)
	}
	return s
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "stats [name]",
		Short:       "Show usage statistics",
		Annotations: readOnly(),
		Args:        cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			records, err := manager.Stats(cmd.Context(), name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				printf(out, "key.none")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, u := range records {
				rows = append(rows, []string{u.KeyRef, strconv.Itoa(u.UseCount), formatTime(&u.FirstUsed), formatTime(u.LastUsedAt)})
			}
			renderTable(out, []string{i18n.T("col.name"), i18n.T("col.uses"), i18n.T("col.first_used"), i18n.T("col.last_used")}, rows)
			return nil
		},
	}
}

func newAuditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:         "audit",
		Short:       "Show the audit journal",
		Annotations: readOnly(),
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := journal.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				printf(out, "audit.none")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{formatTime(&e.Timestamp), e.Username, e.Action, e.Key, e.Details})
			}
			renderTable(out, []string{i18n.T("col.time"), i18n.T("col.user"), i18n.T("col.action"), i18n.T("col.key"), i18n.T("col.details")}, rows)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of entries to show")
	return cmd
}

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Finish transitions interrupted by a crash",
		Long: `Move staged material whose record was committed into place, prune revoked
keys, sweep stale staging directories and report host entries or
repository links that point at unknown keys. This also runs at the start
of every command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := manager.Recover(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, w := range rep.Warnings {
				printf(cmd.ErrOrStderr(), "common.warning", w)
			}
			if rep.Empty() {
				printf(out, "recover.clean")
				return nil
			}
			if len(rep.Promoted) > 0 {
				printf(out, "recover.promoted", strings.Join(rep.Promoted, ", "))
			}
			if len(rep.Pruned) > 0 {
				printf(out, "recover.pruned", strings.Join(rep.Pruned, ", "))
			}
			if len(rep.Swept) > 0 {
				printf(out, "recover.swept", len(rep.Swept))
			}
			if len(rep.Dangling) > 0 {
				printf(out, "recover.dangling", len(rep.Dangling))
			}
			return nil
		},
	}
}
