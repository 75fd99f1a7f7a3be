// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyctl/internal/audit"
	"github.com/toeirei/keyctl/internal/backup"
	"github.com/toeirei/keyctl/internal/config"
	"github.com/toeirei/keyctl/internal/core"
	"github.com/toeirei/keyctl/internal/keygen"
	"github.com/toeirei/keyctl/internal/logging"
	"github.com/toeirei/keyctl/internal/provider"
	"github.com/toeirei/keyctl/internal/registry"
	"github.com/toeirei/keyctl/internal/security"
	"github.com/toeirei/keyctl/internal/store"
)

// Shared for the lifetime of one invocation.
var (
	appConfig config.Config
	manager   *core.Manager
	journal   audit.Journal = audit.Nop{}
)

// setupDefaultServices loads the config and wires the manager. Unless cmd
// only reads, it also runs crash recovery so the command starts from a
// settled state.
func setupDefaultServices(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	appConfig = cfg

	if err := security.EnsureDir(cfg.SSHDir); err != nil {
		return fmt.Errorf("ssh dir %s: %w", cfg.SSHDir, err)
	}
	if err := security.EnsureDir(cfg.StateDir); err != nil {
		return fmt.Errorf("state dir %s: %w", cfg.StateDir, err)
	}

	st, err := store.Open(cfg.StorePath(), store.WithLockTimeout(cfg.Store.LockTimeout))
	if err != nil {
		return err
	}
	gen, err := keygen.New(cfg.Keygen.Backend, cfg.Keygen.SSHKeygenPath)
	if err != nil {
		return err
	}
	backups := backup.New(cfg.Backup.Dir, backupPassphrase(cmd), backup.WithArgon2(backup.Argon2Params{
		Time:    cfg.Backup.Argon2.Time,
		Memory:  cfg.Backup.Argon2.Memory,
		Threads: cfg.Backup.Argon2.Threads,
	}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	journal = openJournal(ctx, cfg)

	m, err := core.New(core.Deps{
		Store:     st,
		Registry:  registry.New(st, registry.WithProjectRoot(cfg.Repos.Root)),
		Generator: gen,
		Backups:   backups,
		Journal:   journal,
		Git:       provider.NewGit(cfg.Commands.Timeout),
		Validator: provider.NewValidator(cfg.SuccessMessages(), cfg.Commands.Timeout),
	}, core.Options{
		SSHDir:            cfg.SSHDir,
		SSHConfig:         cfg.SSHConfig,
		WarningWindow:     cfg.WarningWindow(),
		KeygenTimeout:     cfg.Keygen.Timeout,
		StagingTTL:        cfg.Store.StagingTTL,
		DefaultExpiryDays: cfg.Keys.ExpiryDays,
	})
	if err != nil {
		return err
	}
	manager = m

	if cmd.Annotations[annotationReadOnly] == "true" {
		return nil
	}
	rep, err := manager.Recover(ctx)
	if err != nil {
		// A locked or unreadable store surfaces again in the command itself.
		logging.Debugf("recover skipped: %v", err)
	} else if !rep.Empty() {
		logging.Infof("recovered: %d promoted, %d pruned, %d staging dir(s) swept", len(rep.Promoted), len(rep.Pruned), len(rep.Swept))
	}
	return nil
}

// openJournal opens the audit database, degrading to a no-op journal when it
// is disabled or unavailable.
func openJournal(ctx context.Context, cfg config.Config) audit.Journal {
	if !cfg.Audit.Enabled {
		return audit.Nop{}
	}
	j, err := audit.Open(ctx, cfg.Audit.Type, cfg.Audit.DSN)
	if err != nil {
		logging.Warnf("audit journal disabled: %v", err)
		return audit.Nop{}
	}
	return j
}

func closeServices() {
	if journal != nil {
		if err := journal.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			logging.Debugf("closing audit journal: %v", err)
		}
	}
	journal = audit.Nop{}
	manager = nil
}
