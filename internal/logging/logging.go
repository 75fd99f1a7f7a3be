// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging exposes the process-wide structured logger. Lifecycle
// transitions log at info, compensations and best-effort failures at warn.
package logging

import (
	"io"
	"os"

	clog "github.com/charmbracelet/log"
)

// L writes to stderr so command output on stdout stays machine readable.
var L = newLogger(os.Stderr)

func newLogger(w io.Writer) *clog.Logger {
	return clog.NewWithOptions(w, clog.Options{Prefix: "keyctl"})
}

func Debugf(format string, v ...any) { L.Debugf(format, v...) }
func Infof(format string, v ...any)  { L.Infof(format, v...) }
func Warnf(format string, v ...any)  { L.Warnf(format, v...) }
func Errorf(format string, v ...any) { L.Errorf(format, v...) }

// SetDebug toggles debug output. The CLI wires it to --verbose.
func SetDebug(on bool) {
	if on {
		L.SetLevel(clog.DebugLevel)
		return
	}
	L.SetLevel(clog.InfoLevel)
}

// SetOutput redirects the logger, keeping its level.
func SetOutput(w io.Writer) {
	lvl := L.GetLevel()
	L = newLogger(w)
	L.SetLevel(lvl)
}
