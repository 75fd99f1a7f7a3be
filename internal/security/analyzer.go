// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"fmt"
	"io/fs"
	"os"
	"sort"

	kssh "github.com/toeirei/keyctl/internal/crypto/ssh"
	"github.com/toeirei/keyctl/internal/model"
)

// Severity orders findings. Only Critical blocks admission.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWeak
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWeak:
		return "weak"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Finding is one observation about a key.
type Finding struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Report is the outcome of Assess.
type Report struct {
	Score    int       `json:"score"`
	Findings []Finding `json:"findings"`
}

// Critical reports whether any finding is Critical.
func (r Report) Critical() bool { return r.Highest() == SeverityCritical }

// Highest returns the most severe finding, SeverityInfo when there are none.
func (r Report) Highest() Severity {
	h := SeverityInfo
	for _, f := range r.Findings {
		if f.Severity > h {
			h = f.Severity
		}
	}
	return h
}

// MaterialMeta describes the on-disk material of a key.
type MaterialMeta struct {
	Algorithm   string
	BitLength   int
	PrivateMode fs.FileMode
	PublicMode  fs.FileMode
	HasPublic   bool
}

// Inspect reads the public key next to privPath and the modes of both files.
func Inspect(privPath string) (MaterialMeta, error) {
	var meta MaterialMeta
	mode, err := Mode(privPath)
	if err != nil {
		return meta, err
	}
	meta.PrivateMode = mode

	pubPath := privPath + ".pub"
	data, err := os.ReadFile(pubPath)
	if err != nil {
		return meta, err
	}
	info, err := kssh.ParsePublicKey(data)
	if err != nil {
		return meta, err
	}
	meta.Algorithm = info.Algorithm
	meta.BitLength = info.Bits
	if pm, err := Mode(pubPath); err == nil {
		meta.PublicMode = pm
		meta.HasPublic = true
	}
	return meta, nil
}

// Assess scores key material between 0 and 100 and lists findings. It is a
// pure function of its inputs.
func Assess(key model.Key, meta MaterialMeta) Report {
	var r Report
	add := func(s Severity, format string, args ...any) {
		r.Findings = append(r.Findings, Finding{Severity: s, Message: fmt.Sprintf(format, args...)})
	}

	family := kssh.Family(meta.Algorithm)
	if family == "" && meta.Algorithm == "" {
		family = string(key.Type)
	}
	bits := meta.BitLength
	if bits == 0 {
		bits = key.Bits
	}

	switch family {
	case "ed25519":
		r.Score = 100
	case "ecdsa":
		switch {
		case bits >= 521:
			r.Score = 90
		case bits >= 384:
			r.Score = 85
		default:
			r.Score = 80
		}
		add(SeverityInfo, "ECDSA relies on NIST curves; prefer ed25519 for new keys")
	case "rsa":
		switch {
		case bits >= 4096:
			r.Score = 85
		case bits >= 3072:
			r.Score = 75
		case bits >= 2048:
			r.Score = 40
			add(SeverityWeak, "RSA-%d is below the 3072-bit minimum", bits)
		default:
			r.Score = 10
			add(SeverityWeak, "RSA-%d is far below the 3072-bit minimum", bits)
		}
	case "dsa":
		r.Score = 0
		add(SeverityCritical, "DSA keys are deprecated and insecure")
	default:
		r.Score = 0
		add(SeverityCritical, "unrecognized key algorithm %q", meta.Algorithm)
	}

	if x := Excess(meta.PrivateMode); x != 0 {
		add(SeverityCritical, "private key mode %04o grants access beyond the owner", meta.PrivateMode.Perm())
	}
	if meta.HasPublic && Excess(meta.PublicMode)&0o022 != 0 {
		add(SeverityWeak, "public key mode %04o is writable by group or others", meta.PublicMode.Perm())
	}

	sort.SliceStable(r.Findings, func(i, j int) bool { return r.Findings[i].Severity > r.Findings[j].Severity })
	return r
}
