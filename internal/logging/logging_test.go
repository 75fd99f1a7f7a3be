// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package logging

import (
	"bytes"
	"strings"
	"testing"

	clog "github.com/charmbracelet/log"
)

// Every helper must reach whatever logger L currently is.
func TestHelpers_ReachLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	L = clog.New(&buf)
	L.SetLevel(clog.DebugLevel)
	defer func() { L = prev }()

	Debugf("hello %s", "dbg")
	Infof("info %d", 1)
	Warnf("warn")
	Errorf("err %v", "E")

	out := buf.String()
	for _, want := range []string{"hello dbg", "info 1", "warn", "err E"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output: %s", want, out)
		}
	}
}

func TestSetDebug_GatesDebugLines(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	defer func() { L = prev }()

	L = clog.New(&buf)
	SetDebug(false)
	Debugf("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug line printed at info level")
	}
	SetDebug(true)
	Debugf("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("debug line missing after SetDebug(true)")
	}
}

func TestSetOutput_KeepsLevel(t *testing.T) {
	prev := L
	defer func() { L = prev }()

	L = clog.New(&bytes.Buffer{})
	L.SetLevel(clog.WarnLevel)
	var buf bytes.Buffer
	SetOutput(&buf)
	Infof("quiet")
	Warnf("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}
