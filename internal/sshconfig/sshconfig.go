// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sshconfig edits the OpenSSH client configuration file. It only
// ever touches the Host block whose pattern matches exactly; every other
// line of the file, comments included, is written back verbatim.
package sshconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/toeirei/keyctl/internal/fsutil"
	"github.com/toeirei/keyctl/internal/model"
)

const indent = "    "

// segment is either a Host/Match block or a run of raw lines between blocks.
type segment struct {
	block   bool
	keyword string
	pattern string
	lines   []string
}

// File is a parsed ssh config.
type File struct {
	segs []*segment
}

// Parse splits data into blocks. Comment and blank lines trailing a block
// are kept as a separate raw segment so they survive removal of that block.
func Parse(data []byte) *File {
	f := &File{}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return f
	}

	var cur *segment
	flush := func() {
		if cur == nil {
			return
		}
		if cur.block {
			cut := len(cur.lines)
			for cut > 1 && isTrivia(cur.lines[cut-1]) {
				cut--
			}
			tail := cur.lines[cut:]
			cur.lines = cur.lines[:cut]
			f.segs = append(f.segs, cur)
			if len(tail) > 0 {
				f.segs = append(f.segs, &segment{lines: append([]string(nil), tail...)})
			}
		} else {
			f.segs = append(f.segs, cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if kw, rest, ok := header(line); ok {
			flush()
			cur = &segment{block: true, keyword: kw, pattern: rest, lines: []string{line}}
			continue
		}
		if cur == nil {
			cur = &segment{}
		}
		cur.lines = append(cur.lines, line)
	}
	flush()
	return f
}

func isTrivia(line string) bool {
	t := strings.TrimSpace(line)
	return t == "" || strings.HasPrefix(t, "#")
}

// splitOption splits "Key value", "Key=value" or "Key = value".
func splitOption(line string) (key, value string) {
	t := strings.TrimSpace(line)
	if t == "" || strings.HasPrefix(t, "#") {
		return "", ""
	}
	i := strings.IndexAny(t, " \t=")
	if i < 0 {
		return t, ""
	}
	key = t[:i]
	value = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(t[i:]), "="))
	return key, unquote(value)
}

func header(line string) (keyword, pattern string, ok bool) {
	k, v := splitOption(line)
	switch strings.ToLower(k) {
	case "host", "match":
		return strings.ToLower(k), normalize(v), true
	}
	return "", "", false
}

func normalize(p string) string { return strings.Join(strings.Fields(p), " ") }

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

func quote(v string) string {
	if strings.ContainsAny(v, " \t") {
		return `"` + v + `"`
	}
	return v
}

// Bytes renders the file.
func (f *File) Bytes() []byte {
	var buf bytes.Buffer
	for _, s := range f.segs {
		for _, l := range s.lines {
			buf.WriteString(l)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

func (f *File) find(pattern string) int {
	pattern = normalize(pattern)
	for i, s := range f.segs {
		if s.block && s.keyword == "host" && s.pattern == pattern {
			return i
		}
	}
	return -1
}

// Has reports whether a Host block with exactly pattern exists.
func (f *File) Has(pattern string) bool { return f.find(pattern) >= 0 }

// Upsert writes the block for e. An existing block keeps its header, its
// comments and any option keyctl does not manage. It reports whether a
// block was replaced.
func (f *File) Upsert(e model.HostConfigEntry, identityFile string) bool {
	managed := map[string]string{
		"identityfile":   "IdentityFile " + quote(identityFile),
		"identitiesonly": "IdentitiesOnly yes",
	}
	order := []string{"hostname", "user", "port", "identityfile", "identitiesonly"}
	if e.HostName != "" {
		managed["hostname"] = "HostName " + e.HostName
	}
	if e.User != "" {
		managed["user"] = "User " + e.User
	}
	if e.Port != 0 {
		managed["port"] = "Port " + strconv.Itoa(e.Port)
	}
	var rendered []string
	for _, k := range order {
		if l, ok := managed[k]; ok {
			rendered = append(rendered, indent+l)
		}
	}

	if i := f.find(e.HostPattern); i >= 0 {
		s := f.segs[i]
		body := []string{s.lines[0]}
		body = append(body, rendered...)
		for _, l := range s.lines[1:] {
			k, _ := splitOption(l)
			if _, ok := managed[strings.ToLower(k)]; ok {
				continue
			}
			body = append(body, l)
		}
		s.lines = body
		return true
	}

	if n := len(f.segs); n > 0 {
		last := f.segs[n-1]
		if len(last.lines) > 0 && strings.TrimSpace(last.lines[len(last.lines)-1]) != "" {
			f.segs = append(f.segs, &segment{lines: []string{""}})
		}
	}
	f.segs = append(f.segs, &segment{
		block:   true,
		keyword: "host",
		pattern: normalize(e.HostPattern),
		lines:   append([]string{"Host " + normalize(e.HostPattern)}, rendered...),
	})
	return false
}

// Remove deletes the Host block with exactly pattern. It reports whether a
// block was removed.
func (f *File) Remove(pattern string) bool {
	i := f.find(pattern)
	if i < 0 {
		return false
	}
	f.segs = append(f.segs[:i], f.segs[i+1:]...)
	return true
}

// Host summarizes one Host block.
type Host struct {
	Pattern      string
	HostName     string
	User         string
	Port         int
	IdentityFile string
}

// Hosts lists every Host block in file order.
func (f *File) Hosts() []Host {
	var out []Host
	for _, s := range f.segs {
		if !s.block || s.keyword != "host" {
			continue
		}
		h := Host{Pattern: s.pattern}
		for _, l := range s.lines[1:] {
			k, v := splitOption(l)
			switch strings.ToLower(k) {
			case "hostname":
				h.HostName = v
			case "user":
				h.User = v
			case "port":
				h.Port, _ = strconv.Atoi(v)
			case "identityfile":
				if h.IdentityFile == "" {
					h.IdentityFile = v
				}
			}
		}
		out = append(out, h)
	}
	return out
}

// Load reads path. A missing file is an empty config.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data), nil
}

// Edit loads path, applies fn and writes the result back atomically with
// mode 0600 if anything changed.
func Edit(path string, fn func(*File) error) error {
	f, err := Load(path)
	if err != nil {
		return err
	}
	before := f.Bytes()
	if err := fn(f); err != nil {
		return err
	}
	after := f.Bytes()
	if bytes.Equal(before, after) {
		return nil
	}
	if err := fsutil.WriteFile(path, after, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
