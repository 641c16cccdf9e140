package monitoring

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestSetLogWriters_SplitsStreams(t *testing.T) {
	defer SetLogWriters(os.Stderr, os.Stderr)

	var info, warn bytes.Buffer
	SetLogWriters(&info, &warn)

	Logf("listening on %s", ":5566")
	Warnf("source %s unavailable", "serial")

	if !strings.HasSuffix(info.String(), "listening on :5566\n") {
		t.Errorf("info stream got %q", info.String())
	}
	if strings.Contains(info.String(), "unavailable") {
		t.Errorf("warning leaked into info stream: %q", info.String())
	}
	if !strings.HasSuffix(warn.String(), "warning: source serial unavailable\n") {
		t.Errorf("warn stream got %q", warn.String())
	}
}

func TestSetLogWriters_SharedWriter(t *testing.T) {
	defer SetLogWriters(os.Stderr, os.Stderr)

	var buf bytes.Buffer
	SetLogWriters(&buf, &buf)
	Logf("first")
	Warnf("second")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	if !strings.HasSuffix(lines[0], " first") || !strings.HasSuffix(lines[1], " warning: second") {
		t.Errorf("unexpected lines %q", lines)
	}
}

func TestSetLogWriters_NilSilences(t *testing.T) {
	defer SetLogWriters(os.Stderr, os.Stderr)

	var warn bytes.Buffer
	SetLogWriters(nil, &warn)
	Logf("dropped")
	Warnf("kept")

	if got := warn.String(); !strings.HasSuffix(got, "warning: kept\n") {
		t.Errorf("warn stream got %q", got)
	}

	SetLogWriters(nil, nil)
	Warnf("also dropped")
	if strings.Contains(warn.String(), "also dropped") {
		t.Error("nil writer should silence the warn stream")
	}
}
