// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the effective keyctl configuration.
type Config struct {
	SSHDir    string `mapstructure:"ssh_dir" yaml:"ssh_dir"`
	StateDir  string `mapstructure:"state_dir" yaml:"state_dir"`
	SSHConfig string `mapstructure:"ssh_config" yaml:"ssh_config"`
	Language  string `mapstructure:"language" yaml:"language"`

	Store     StoreConfig               `mapstructure:"store" yaml:"store"`
	Keys      KeysConfig                `mapstructure:"keys" yaml:"keys"`
	Keygen    KeygenConfig              `mapstructure:"keygen" yaml:"keygen"`
	Backup    BackupConfig              `mapstructure:"backup" yaml:"backup"`
	Repos     ReposConfig               `mapstructure:"repos" yaml:"repos"`
	Audit     AuditConfig               `mapstructure:"audit" yaml:"audit"`
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Commands  CommandsConfig            `mapstructure:"commands" yaml:"commands"`
}

type StoreConfig struct {
	LockTimeout time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	StagingTTL  time.Duration `mapstructure:"staging_ttl" yaml:"staging_ttl"`
}

type KeysConfig struct {
	DefaultType    string `mapstructure:"default_type" yaml:"default_type"`
	DefaultComment string `mapstructure:"default_comment" yaml:"default_comment"`
	ExpiryDays     int    `mapstructure:"expiry_days" yaml:"expiry_days"`
	WarningDays    int    `mapstructure:"warning_days" yaml:"warning_days"`
}

type KeygenConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	SSHKeygenPath string        `mapstructure:"ssh_keygen_path" yaml:"ssh_keygen_path"`
}

type Argon2Config struct {
	Time    uint32 `mapstructure:"time" yaml:"time"`
	Memory  uint32 `mapstructure:"memory" yaml:"memory"`
	Threads uint8  `mapstructure:"threads" yaml:"threads"`
}

type BackupConfig struct {
	Dir    string       `mapstructure:"dir" yaml:"dir"`
	Argon2 Argon2Config `mapstructure:"argon2" yaml:"argon2"`
}

type ReposConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Type    string `mapstructure:"type" yaml:"type"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

type ProviderConfig struct {
	SuccessMessage string `mapstructure:"success_message" yaml:"success_message"`
}

type CommandsConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Defaults returns the flattened default values passed to LoadConfig.
func Defaults() map[string]any {
	return map[string]any{
		"ssh_dir":                "~/.ssh",
		"state_dir":              "",
		"ssh_config":             "",
		"language":               "en",
		"store.lock_timeout":     5 * time.Second,
		"store.staging_ttl":      time.Hour,
		"keys.default_type":      "ed25519",
		"keys.default_comment":   "",
		"keys.expiry_days":       0,
		"keys.warning_days":      30,
		"keygen.backend":         "builtin",
		"keygen.timeout":         30 * time.Second,
		"keygen.ssh_keygen_path": "ssh-keygen",
		"backup.dir":             "",
		"backup.argon2.time":     3,
		"backup.argon2.memory":   64 * 1024,
		"backup.argon2.threads":  1,
		"repos.root":             "~",
		"audit.enabled":          true,
		"audit.type":             "sqlite",
		"audit.dsn":              "",
		"providers": map[string]any{
			"github.com":    map[string]any{"success_message": "successfully authenticated"},
			"gitlab.com":    map[string]any{"success_message": "Welcome to GitLab"},
			"bitbucket.org": map[string]any{"success_message": "logged in as"},
		},
		"commands.timeout": time.Minute,
	}
}

// Resolve expands ~ in every path and fills the paths derived from others.
func (c *Config) Resolve() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	c.SSHDir = ExpandHome(c.SSHDir, home)
	if c.SSHDir == "" {
		c.SSHDir = filepath.Join(home, ".ssh")
	}
	c.StateDir = ExpandHome(c.StateDir, home)
	if c.StateDir == "" {
		c.StateDir = filepath.Join(c.SSHDir, ".keyctl")
	}
	c.SSHConfig = ExpandHome(c.SSHConfig, home)
	if c.SSHConfig == "" {
		c.SSHConfig = filepath.Join(c.SSHDir, "config")
	}
	c.Backup.Dir = ExpandHome(c.Backup.Dir, home)
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(c.StateDir, "backups")
	}
	c.Repos.Root = ExpandHome(c.Repos.Root, home)
	if c.Repos.Root == "" {
		c.Repos.Root = home
	}
	if c.Audit.Type == "" {
		c.Audit.Type = "sqlite"
	}
	if c.Audit.DSN == "" && c.Audit.Type == "sqlite" {
		c.Audit.DSN = filepath.Join(c.StateDir, "audit.db")
	}
	c.Keygen.SSHKeygenPath = ExpandHome(c.Keygen.SSHKeygenPath, home)
	return nil
}

// StorePath is the location of the store document.
func (c *Config) StorePath() string { return filepath.Join(c.StateDir, "keyctl.json") }

// WarningWindow is the Expiring threshold.
func (c *Config) WarningWindow() time.Duration {
	return time.Duration(c.Keys.WarningDays) * 24 * time.Hour
}

// SuccessMessages flattens the provider table for the validator.
func (c *Config) SuccessMessages() map[string]string {
	out := make(map[string]string, len(c.Providers))
	for host, p := range c.Providers {
		out[host] = p.SuccessMessage
	}
	return out
}

// ExpandHome replaces a leading ~ with home.
func ExpandHome(p, home string) string {
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		return filepath.Join(home, p[2:])
	}
	return p
}
