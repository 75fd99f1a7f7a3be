// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/toeirei/keyctl/internal/core"
	"github.com/toeirei/keyctl/internal/i18n"
	"github.com/toeirei/keyctl/internal/model"
	"golang.org/x/term"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255")).Background(lipgloss.Color("60")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
)

// styled reports whether w is a terminal that should get colour.
func styled(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// renderTable prints rows under headers. Plain writers get a borderless
// layout that is easy to grep.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().Headers(headers...).Rows(rows...)
	if styled(w) {
		t = t.Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("60"))).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})
	} else {
		t = t.Border(lipgloss.HiddenBorder()).
			BorderTop(false).BorderBottom(false).BorderLeft(false).BorderRight(false).
			BorderHeader(false).BorderColumn(false).
			StyleFunc(func(row, col int) lipgloss.Style { return lipgloss.NewStyle().PaddingRight(2) })
	}
	fmt.Fprintln(w, t.Render())
}

// printResult prints the warnings of a transition to stderr.
func printResult(w io.Writer, res *core.Result) {
	if res == nil {
		return
	}
	for _, msg := range res.Warnings {
		line := i18n.T("common.warning", msg)
		if styled(w) {
			line = warnStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}

func stateLabel(w io.Writer, s model.KeyState) string {
	label := i18n.T("state." + string(s))
	if !styled(w) {
		return label
	}
	switch s {
	case model.StateExpired, model.StateRevoked:
		return errStyle.Render(label)
	case model.StateExpiring:
		return warnStyle.Render(label)
	default:
		return okStyle.Render(label)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateOnly)
}

// formatRemaining renders a duration in whole days.
func formatRemaining(d time.Duration) string {
	days := int(d.Hours() / 24)
	if d < 0 {
		return i18n.T("expiry.ago", -days)
	}
	return i18n.T("expiry.in", days)
}
