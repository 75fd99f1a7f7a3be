// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cli is the keyctl command line. Every command shares one
// configured core.Manager, built in the root command's PersistentPreRunE.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyctl/buildvars"
	"github.com/toeirei/keyctl/internal/config"
	"github.com/toeirei/keyctl/internal/i18n"
	"github.com/toeirei/keyctl/internal/logging"
	"github.com/toeirei/keyctl/internal/state"
)

var version = "dev"   // set by the linker
var gitCommit = "dev" // short commit SHA, set at build time
var buildDate = ""    // RFC3339, set at build time

var (
	cfgFile string
	verbose bool
)

// Execute runs the CLI. The caller maps the returned error to an exit code.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer state.PassphraseCache.Clear()
	defer closeServices()

	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds a fresh command tree, so tests can run commands in
// isolation.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyctl",
		Short: "keyctl manages the lifecycle of local SSH keys.",
		Long: `keyctl creates, rotates, backs up and deletes SSH keys in your ssh
directory and keeps everything that points at them consistent: Host
blocks in ~/.ssh/config and the key pinned in each linked git repository.

Every change is committed as one atomic update of the keyctl store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logging.SetDebug(true)
			}
			if cmd.Annotations[annotationNoServices] == "true" {
				return nil
			}
			return setupDefaultServices(cmd)
		},
	}
	cmd.Version = compositeVersion()

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	cmd.PersistentFlags().String("language", "en", `Output language ("en", "de")`)
	cmd.PersistentFlags().String("ssh_dir", "", "Directory holding managed keys (default ~/.ssh)")
	cmd.PersistentFlags().String("state_dir", "", "Directory holding the keyctl store (default <ssh_dir>/.keyctl)")

	cmd.AddCommand(
		newCreateCmd(),
		newListCmd(),
		newShowCmd(),
		newRotateCmd(),
		newDeleteCmd(),
		newExpireCmd(),
		newBackupCmd(),
		newRestoreCmd(),
		newConfigCmd(),
		newRepoCmd(),
		newAgentCmd(),
		newValidateCmd(),
		newAnalyzeCmd(),
		newStatsCmd(),
		newAuditCmd(),
		newRecoverCmd(),
		newVersionCmd(),
	)
	return cmd
}

const (
	// annotationNoServices marks commands that run without a store.
	annotationNoServices = "keyctl/no-services"
	// annotationReadOnly marks commands that only read; they skip the
	// startup recovery.
	annotationReadOnly = "keyctl/read-only"
)

func readOnly() map[string]string { return map[string]string{annotationReadOnly: "true"} }

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version",
		Annotations: map[string]string{annotationNoServices: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	if c != "" && c != "dev" {
		v += " (" + c + ")"
	}
	if d != "" {
		v += " built: " + d
	}
	return v
}

// resolveBuildVersion prefers link-time values, then module build info.
// info is read from the runtime when nil.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	versionOut = buildvars.VersionOrDefault(version)
	commitOut = gitCommit
	dateOut = buildDate
	if info == nil {
		var ok bool
		if info, ok = debug.ReadBuildInfo(); !ok {
			return
		}
	}
	if versionOut == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		versionOut = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if commitOut == "dev" && s.Value != "" {
				commitOut = s.Value
				if len(commitOut) > 7 {
					commitOut = commitOut[:7]
				}
			}
		case "vcs.time":
			if dateOut == "" {
				dateOut = s.Value
			}
		}
	}
	return
}

// getConfigPathFromCli returns the --config path when set, failing early if
// the file is not there.
func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// loadConfig layers defaults, files, environment and flags, writing a
// default config file on first run.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	explicit, err := getConfigPathFromCli(cmd)
	if err != nil {
		return config.Config{}, err
	}
	cfg, found, err := config.LoadConfig[config.Config](cmd, config.Defaults(), explicit)
	if err != nil {
		return cfg, fmt.Errorf("error loading config: %w", err)
	}
	if !found && os.Getenv("KEYCTL_NO_WRITE_CONFIG") == "" {
		// First run: persist the defaults so the user has a file to edit.
		if path, werr := config.WriteConfigFile(&cfg, false); werr != nil {
			logging.Warnf("could not write default config file: %v", werr)
		} else {
			logging.Infof("wrote default config to %s", path)
		}
	}
	if err := cfg.Resolve(); err != nil {
		return cfg, fmt.Errorf("error resolving config: %w", err)
	}
	i18n.Init(cfg.Language)
	return cfg, nil
}

func printf(w io.Writer, id string, args ...any) {
	fmt.Fprintln(w, i18n.T(id, args...))
}
