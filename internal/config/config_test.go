// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	c, found, err := LoadConfig[Config](&cobra.Command{}, Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if found {
		t.Fatalf("no config file should have been found")
	}
	if c.Store.LockTimeout != 5*time.Second || c.Keys.WarningDays != 30 || c.Keygen.Backend != "builtin" {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.Providers["github.com"].SuccessMessage == "" {
		t.Fatalf("provider defaults missing: %+v", c.Providers)
	}
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, "custom.yaml")
	data := "ssh_dir: /tmp/keys\nstore:\n  lock_timeout: 2s\nkeys:\n  warning_days: 7\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KEYCTL_KEYGEN_BACKEND", "ssh-keygen")

	c, found, err := LoadConfig[Config](&cobra.Command{}, Defaults(), &path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !found || c.SSHDir != "/tmp/keys" || c.Store.LockTimeout != 2*time.Second || c.Keys.WarningDays != 7 {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.Keygen.Backend != "ssh-keygen" {
		t.Fatalf("env override not applied: %q", c.Keygen.Backend)
	}
}

func TestWriteConfigTo_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	c, _, err := LoadConfig[Config](nil, Defaults(), nil)
	if err != nil {
		t.Fatal(err)
	}
	c.SSHDir = "/srv/ssh"
	path := filepath.Join(t.TempDir(), "sub", "keyctl.yaml")
	if err := WriteConfigTo(&c, path); err != nil {
		t.Fatalf("WriteConfigTo: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("mode %v", fi.Mode().Perm())
	}
	back, _, err := LoadConfig[Config](nil, Defaults(), &path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if back.SSHDir != "/srv/ssh" || back.Store.LockTimeout != c.Store.LockTimeout {
		t.Fatalf("round trip lost values: %+v", back)
	}
}

func TestResolve_DerivesPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	c := Config{SSHDir: "~/.ssh", Repos: ReposConfig{Root: "~"}}
	if err := c.Resolve(); err != nil {
		t.Fatal(err)
	}
	if c.SSHDir != filepath.Join(home, ".ssh") || c.StateDir != filepath.Join(home, ".ssh", ".keyctl") {
		t.Fatalf("unexpected dirs %q %q", c.SSHDir, c.StateDir)
	}
	if c.SSHConfig != filepath.Join(c.SSHDir, "config") || c.Backup.Dir != filepath.Join(c.StateDir, "backups") {
		t.Fatalf("derived paths wrong: %+v", c)
	}
	if c.Audit.DSN != filepath.Join(c.StateDir, "audit.db") || c.Repos.Root != home {
		t.Fatalf("audit/repos wrong: %+v", c)
	}
}

func TestExpandHome(t *testing.T) {
	if got := ExpandHome("~/x", "/h"); got != filepath.Join("/h", "x") {
		t.Fatalf("got %q", got)
	}
	if got := ExpandHome("/abs", "/h"); got != "/abs" {
		t.Fatalf("got %q", got)
	}
}
