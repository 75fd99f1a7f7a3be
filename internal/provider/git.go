// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package provider

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Git runs the git operations keyctl needs on linked repositories.
type Git struct {
	Path    string
	Timeout time.Duration
	Run     Runner
}

// NewGit returns a Git using the git binary on PATH.
func NewGit(timeout time.Duration) *Git {
	return &Git{Path: "git", Timeout: timeout, Run: ExecRunner}
}

func (g *Git) run(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	out, err := g.Run(ctx, Cmd{Dir: dir, Env: env, Name: g.Path, Args: args})
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// SSHCommand is the core.sshCommand value that pins keyPath.
func SSHCommand(keyPath string) string {
	return "ssh -i " + shellQuote(filepath.ToSlash(keyPath)) + " -o IdentitiesOnly=yes"
}

// RemoteURL returns remote.origin.url of repo, or "" when it has none.
func (g *Git) RemoteURL(ctx context.Context, repo string) (string, error) {
	out, err := g.run(ctx, repo, nil, "config", "--get", "remote.origin.url")
	if err != nil {
		// git config --get exits 1 for an unset key.
		return "", nil
	}
	return out, nil
}

// PinKey sets core.sshCommand in repo so git uses keyPath.
func (g *Git) PinKey(ctx context.Context, repo, keyPath string) error {
	_, err := g.run(ctx, repo, nil, "config", "core.sshCommand", SSHCommand(keyPath))
	return err
}

// UnpinKey removes core.sshCommand from repo. An unset value is not an error.
func (g *Git) UnpinKey(ctx context.Context, repo string) error {
	cur, _ := g.run(ctx, repo, nil, "config", "--get", "core.sshCommand")
	if cur == "" {
		return nil
	}
	_, err := g.run(ctx, repo, nil, "config", "--unset", "core.sshCommand")
	return err
}

// Clone clones remote into dest authenticating with keyPath.
func (g *Git) Clone(ctx context.Context, remote, dest, keyPath string) error {
	env := []string{"GIT_SSH_COMMAND=" + SSHCommand(keyPath)}
	_, err := g.run(ctx, "", env, "clone", remote, dest)
	return err
}

// SetIdentity writes user.email and user.name into repo when non-empty.
func (g *Git) SetIdentity(ctx context.Context, repo, email, name string) error {
	if email != "" {
		if _, err := g.run(ctx, repo, nil, "config", "user.email", email); err != nil {
			return err
		}
	}
	if name != "" {
		if _, err := g.run(ctx, repo, nil, "config", "user.name", name); err != nil {
			return err
		}
	}
	return nil
}

// HostFromURL extracts the provider host from an ssh, scp-style or https
// remote URL.
func HostFromURL(remote string) string {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return ""
	}
	if strings.Contains(remote, "://") {
		u, err := url.Parse(remote)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Hostname())
	}
	// scp form: [user@]host:path
	colon := strings.Index(remote, ":")
	if colon <= 0 {
		return ""
	}
	host := remote[:colon]
	if at := strings.LastIndex(host, "@"); at >= 0 {
		host = host[at+1:]
	}
	return strings.ToLower(host)
}

// ExpandShorthand turns owner/repo into git@host:owner/repo.git. Full URLs
// pass through unchanged.
func ExpandShorthand(host, repo string) string {
	if strings.Contains(repo, "://") || strings.Contains(repo, "@") || strings.Contains(repo, ":") {
		return repo
	}
	repo = strings.Trim(repo, "/")
	if !strings.HasSuffix(repo, ".git") {
		repo += ".git"
	}
	return "git@" + host + ":" + repo
}

// RepoName returns the directory name git clone would pick for remote.
func RepoName(remote string) string {
	r := strings.TrimSuffix(strings.TrimRight(remote, "/"), ".git")
	if i := strings.LastIndexAny(r, "/:"); i >= 0 {
		r = r[i+1:]
	}
	return r
}
