// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/model"
)

// hostPatternRe accepts one or more space separated ssh Host patterns.
var hostPatternRe = regexp.MustCompile(`^[A-Za-z0-9._*?!\-\[\]:]+( [A-Za-z0-9._*?!\-\[\]:]+)*$`)

// ValidateHost checks a host entry before it is linked. It does not check
// that KeyRef resolves; that needs the current document.
func ValidateHost(e model.HostConfigEntry) error {
	if !hostPatternRe.MatchString(e.HostPattern) {
		return fmt.Errorf("%w: host pattern %q", errs.ErrInvalidInput, e.HostPattern)
	}
	if e.KeyRef == "" {
		return fmt.Errorf("%w: host %q has no key", errs.ErrInvalidInput, e.HostPattern)
	}
	if e.Port < 0 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", errs.ErrInvalidInput, e.Port)
	}
	if strings.ContainsAny(e.User, " \t\r\n") {
		return fmt.Errorf("%w: user %q contains whitespace", errs.ErrInvalidInput, e.User)
	}
	if strings.ContainsAny(e.HostName, " \t\r\n") {
		return fmt.Errorf("%w: hostname %q contains whitespace", errs.ErrInvalidInput, e.HostName)
	}
	return nil
}

// CanonicalRepoPath turns p into a clean absolute path inside root. Any ".."
// segment in p is rejected outright, as is a path (after symlink resolution)
// that lands outside root. Relative paths are taken relative to root. An
// empty root disables the containment check.
func CanonicalRepoPath(root, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty repository path", errs.ErrInvalidInput)
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", errs.ErrPathTraversal, p)
		}
	}

	if root != "" {
		r, err := filepath.Abs(root)
		if err != nil {
			return "", fmt.Errorf("%w: project root %q: %v", errs.ErrInvalidInput, root, err)
		}
		root = resolveSymlinks(r)
	}

	abs := p
	if !filepath.IsAbs(abs) {
		if root == "" {
			var err error
			if abs, err = filepath.Abs(abs); err != nil {
				return "", fmt.Errorf("%w: %q: %v", errs.ErrInvalidInput, p, err)
			}
		} else {
			abs = filepath.Join(root, abs)
		}
	}
	abs = resolveSymlinks(filepath.Clean(abs))

	if root != "" && !within(root, abs) {
		return "", fmt.Errorf("%w: %q is outside %q", errs.ErrPathTraversal, abs, root)
	}
	return abs, nil
}

// resolveSymlinks resolves the longest existing prefix of p and appends
// the missing remainder, so a link in a parent is followed even when the
// leaf does not exist yet.
func resolveSymlinks(p string) string {
	var rest []string
	cur := p
	for {
		if _, err := os.Lstat(cur); err == nil {
			r, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return p
			}
			return filepath.Join(append([]string{r}, rest...)...)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
