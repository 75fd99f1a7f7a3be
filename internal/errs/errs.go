// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package errs defines the error taxonomy shared by every keyctl component.
// Errors are sentinel based: components wrap one of the sentinels below with
// fmt.Errorf("...: %w", ...) and callers match with errors.Is. KindOf and
// ExitCode classify any wrapped error for the CLI.
package errs

import (
	"errors"
	"fmt"
)

// Kind groups sentinels into the five error families.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindStore
	KindLifecycle
	KindBackup
	KindSecurity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStore:
		return "store"
	case KindLifecycle:
		return "lifecycle"
	case KindBackup:
		return "backup"
	case KindSecurity:
		return "security"
	default:
		return "unknown"
	}
}

type sentinel struct {
	kind Kind
	msg  string
}

func (s *sentinel) Error() string { return s.msg }
func (s *sentinel) Kind() Kind    { return s.kind }

func newSentinel(k Kind, msg string) error { return &sentinel{kind: k, msg: msg} }

// Validation errors.
var (
	ErrInvalidName   = newSentinel(KindValidation, "invalid key name")
	ErrInvalidInput  = newSentinel(KindValidation, "invalid input")
	ErrNameTaken     = newSentinel(KindValidation, "key name already in use")
	ErrUnknownKey    = newSentinel(KindValidation, "unknown key")
	ErrPathTraversal = newSentinel(KindValidation, "path escapes project root")
	ErrUnknownLink   = newSentinel(KindValidation, "no such association")
)

// Store errors.
var (
	ErrLocked  = newSentinel(KindStore, "store is locked by another process")
	ErrIOFault = newSentinel(KindStore, "i/o fault")
	ErrCorrupt = newSentinel(KindStore, "store document is corrupt")
)

// Lifecycle errors.
var (
	ErrNotFound         = newSentinel(KindLifecycle, "key not found")
	ErrInUse            = newSentinel(KindLifecycle, "key is still referenced")
	ErrGenerationFailed = newSentinel(KindLifecycle, "key generation failed")
	ErrConflict         = newSentinel(KindLifecycle, "concurrent modification")
)

// Backup errors.
var (
	ErrTampered           = newSentinel(KindBackup, "backup integrity check failed")
	ErrNameCollision      = newSentinel(KindBackup, "restore target already exists")
	ErrUnsupportedVersion = newSentinel(KindBackup, "unsupported manifest version")
	ErrNoPassphrase       = newSentinel(KindBackup, "backup passphrase required")
)

// ErrAdmission is returned when the security analysis rejects new material.
var ErrAdmission = newSentinel(KindSecurity, "rejected by security analysis")

// Error attaches an operation and key name to an underlying error.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Key != "" && e.Op != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with op and key. A nil err stays nil.
func E(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Key: key, Err: err}
}

// KindOf returns the kind of the first sentinel found in err's chain.
func KindOf(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// Exit codes returned by the CLI.
const (
	ExitOK       = 0
	ExitInvalid  = 1
	ExitConflict = 2
	ExitIO       = 3
	ExitSecurity = 4
)

// ExitCode maps err onto the process exit contract.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindValidation:
		return ExitInvalid
	case KindStore:
		return ExitIO
	case KindLifecycle:
		if errors.Is(err, ErrGenerationFailed) {
			return ExitIO
		}
		return ExitConflict
	case KindBackup:
		if errors.Is(err, ErrNameCollision) {
			return ExitConflict
		}
		if errors.Is(err, ErrNoPassphrase) {
			return ExitInvalid
		}
		return ExitIO
	case KindSecurity:
		return ExitSecurity
	default:
		return ExitInvalid
	}
}
