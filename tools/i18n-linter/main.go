// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks that every message id the keyctl sources use exists in
// the primary locale, and that every other locale carries the same ids.
//
// Usage, from the repository root:
//
//	go run ./tools/i18n-linter
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	localesDir    = "internal/i18n/locales"
	primaryLocale = "en.yaml"
)

var (
	// i18n.T("id" and printf(w, "id" are the two ways the CLI looks up
	// messages. A literal ending in "." followed by + is a dynamic prefix.
	callRe   = regexp.MustCompile(`\b(?:i18n\.T|printf)\((?:[^,"]+?,\s*)?"([a-z_]+(?:\.[a-z_]*)+)"(\s*\+)?`)
	prefixRe = regexp.MustCompile(`\.$`)
)

// usage is what the sources ask for.
type usage struct {
	ids      map[string][]string // id -> files
	prefixes map[string][]string
}

// report is the outcome of one lint run.
type report struct {
	Undefined []string            // used but not in the primary locale
	Orphaned  []string            // in the primary locale, never used
	Missing   map[string][]string // locale file -> ids it lacks
}

func (r report) failed() bool {
	if len(r.Undefined) > 0 {
		return true
	}
	for _, ids := range r.Missing {
		if len(ids) > 0 {
			return true
		}
	}
	return false
}

func main() {
	r, err := lint(".", localesDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "i18n-linter:", err)
		os.Exit(2)
	}
	for _, id := range r.Undefined {
		fmt.Printf("undefined: %s\n", id)
	}
	files := make([]string, 0, len(r.Missing))
	for f := range r.Missing {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		for _, id := range r.Missing[f] {
			fmt.Printf("missing in %s: %s\n", f, id)
		}
	}
	for _, id := range r.Orphaned {
		fmt.Printf("orphaned: %s\n", id)
	}
	if r.failed() {
		os.Exit(1)
	}
}

func lint(root, locales string) (report, error) {
	u, err := scan(root)
	if err != nil {
		return report{}, err
	}
	primary, err := loadIDs(filepath.Join(locales, primaryLocale))
	if err != nil {
		return report{}, err
	}
	r := report{Missing: map[string][]string{}}

	for id := range u.ids {
		if _, ok := primary[id]; !ok {
			r.Undefined = append(r.Undefined, id)
		}
	}
	for p := range u.prefixes {
		if !anyWithPrefix(primary, p) {
			r.Undefined = append(r.Undefined, p+"*")
		}
	}
	for id := range primary {
		if _, ok := u.ids[id]; ok {
			continue
		}
		if !coveredByPrefix(id, u.prefixes) {
			r.Orphaned = append(r.Orphaned, id)
		}
	}

	others, err := filepath.Glob(filepath.Join(locales, "*.yaml"))
	if err != nil {
		return report{}, err
	}
	for _, f := range others {
		if filepath.Base(f) == primaryLocale {
			continue
		}
		ids, err := loadIDs(f)
		if err != nil {
			return report{}, fmt.Errorf("%s: %w", f, err)
		}
		var missing []string
		for id := range primary {
			if _, ok := ids[id]; !ok {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		r.Missing[filepath.Base(f)] = missing
	}
	sort.Strings(r.Undefined)
	sort.Strings(r.Orphaned)
	return r, nil
}

// scan collects message ids from non-test Go files below root, skipping
// tools/ and hidden or underscore-prefixed directories.
func scan(root string) (usage, error) {
	u := usage{ids: map[string][]string{}, prefixes: map[string][]string{}}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (name == "tools" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, m := range callRe.FindAllStringSubmatch(string(data), -1) {
			id := m[1]
			if m[2] != "" && prefixRe.MatchString(id) {
				u.prefixes[id] = append(u.prefixes[id], path)
				continue
			}
			u.ids[id] = append(u.ids[id], path)
		}
		return nil
	})
	return u, err
}

// loadIDs reads a flat locale file.
func loadIDs(path string) (map[string]struct{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	ids := make(map[string]struct{}, len(raw))
	for k, v := range raw {
		if _, ok := v.(string); !ok {
			return nil, fmt.Errorf("%s: %s is not a plain string", path, k)
		}
		ids[k] = struct{}{}
	}
	return ids, nil
}

func anyWithPrefix(ids map[string]struct{}, prefix string) bool {
	for id := range ids {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

func coveredByPrefix(id string, prefixes map[string][]string) bool {
	for p := range prefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}
