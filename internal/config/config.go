// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads keyctl settings from defaults, keyctl.yaml, KEYCTL_*
// environment variables and command line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/keyctl/internal/fsutil"
)

const (
	fileName    = "keyctl"
	envPrefix   = "keyctl"
	projectFile = ".keyctl.yaml"
)

// GetConfigPath returns the user (or system-wide) configuration file path.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "keyctl")
		default:
			configDir = "/etc/keyctl"
		}
	} else {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(dir, "keyctl")
	}
	return filepath.Join(configDir, fileName+".yaml"), nil
}

// LoadConfig layers defaults, the first keyctl.yaml found (explicitPath wins
// over the user dir, /etc/keyctl and the working directory), a project-local
// .keyctl.yaml, KEYCTL_* variables and cmd's flags into a T. The returned
// bool reports whether any config file was read.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, explicitPath *string) (T, bool, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	if explicitPath != nil && *explicitPath != "" {
		v.SetConfigFile(*explicitPath)
	}
	if p, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(p))
	}
	if p, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(p))
	}
	v.AddConfigPath(".")

	found := true
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return c, false, err
		}
		found = false
	}

	if mergeProjectConfig(v) {
		found = true
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, found, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, found, err
	}
	return c, found, nil
}

// mergeProjectConfig overlays .keyctl.yaml from the working directory.
func mergeProjectConfig(v *viper.Viper) bool {
	if _, err := os.Stat(projectFile); err != nil {
		return false
	}
	v.SetConfigFile(projectFile)
	// A malformed project file is ignored rather than blocking startup.
	err := v.MergeInConfig()
	v.SetConfigFile("")
	return err == nil
}

// WriteConfigFile persists c as YAML at the user (or system) config path
// with mode 0600 and returns the path written.
func WriteConfigFile[T any](c *T, system bool) (string, error) {
	path, err := GetConfigPath(system)
	if err != nil {
		return "", err
	}
	return path, WriteConfigTo(c, path)
}

// WriteConfigTo persists c at path.
func WriteConfigTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", filepath.Dir(path), err)
	}
	return fsutil.WriteFile(path, data, 0o600)
}
