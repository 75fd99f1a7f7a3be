// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyctl/internal/backup"
	"github.com/toeirei/keyctl/internal/i18n"
	"github.com/toeirei/keyctl/internal/security"
	"github.com/toeirei/keyctl/internal/state"
	"golang.org/x/term"
)

// envBackupPassphrase supplies the backup passphrase non-interactively.
const envBackupPassphrase = "KEYCTL_BACKUP_PASSPHRASE"

// readPassword is swapped out in tests.
var readPassword = term.ReadPassword

// backupPassphrase asks once per invocation and caches the answer.
func backupPassphrase(cmd *cobra.Command) backup.PassphraseFunc {
	return func() (security.Secret, error) {
		if p := state.PassphraseCache.Get(); !p.Empty() {
			return p, nil
		}
		if v := os.Getenv(envBackupPassphrase); v != "" {
			p := security.FromString(v)
			state.PassphraseCache.Set(p)
			return p, nil
		}
		p, err := readSecret(cmd, i18n.T("prompt.backup_passphrase"))
		if err != nil {
			return nil, err
		}
		state.PassphraseCache.Set(p)
		return p, nil
	}
}

var (
	readersMu sync.Mutex
	readers   = map[io.Reader]*bufio.Reader{}
)

// lineReader keeps one buffered reader per input so consecutive prompts do
// not lose buffered lines.
func lineReader(in io.Reader) *bufio.Reader {
	readersMu.Lock()
	defer readersMu.Unlock()
	r, ok := readers[in]
	if !ok {
		r = bufio.NewReader(in)
		readers[in] = r
	}
	return r
}

// readSecret prompts on stderr. From a terminal the input is not echoed;
// otherwise one line is read from the command's input.
func readSecret(cmd *cobra.Command, prompt string) (security.Secret, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt+" ")
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := readPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return nil, err
		}
		return security.Secret(b), nil
	}
	line, err := lineReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return security.FromString(strings.TrimRight(line, "\r\n")), nil
}

// readNewSecret prompts twice and requires both answers to match.
func readNewSecret(cmd *cobra.Command) (security.Secret, error) {
	first, err := readSecret(cmd, i18n.T("prompt.key_passphrase"))
	if err != nil {
		return nil, err
	}
	if first.Empty() {
		return nil, nil
	}
	second, err := readSecret(cmd, i18n.T("prompt.key_passphrase_confirm"))
	if err != nil {
		first.Zero()
		return nil, err
	}
	defer second.Zero()
	if string(first) != string(second) {
		first.Zero()
		return nil, errors.New(i18n.T("prompt.mismatch"))
	}
	return first, nil
}

// confirm asks a yes/no question; anything but y/yes is no.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprint(cmd.ErrOrStderr(), question+" [y/N] ")
	line, _ := lineReader(cmd.InOrStdin()).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "j", "ja":
		return true
	}
	return false
}
