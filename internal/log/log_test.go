package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/logutils"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" Warn ", LevelWarn},
		{"warning", LevelWarn},
		{"ERROR", LevelError},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatLine(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got := formatLine(ts, LevelWarn, "source failed", "kind", "exam", "count", 2, "dangling")
	want := "2025-01-01T00:00:00Z [WARN] source failed kind=exam count=2"
	if got != want {
		t.Errorf("formatLine() = %q, want %q", got, want)
	}
}

func TestFilterDropsBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	f := &logutils.LevelFilter{
		Levels:   levels,
		MinLevel: logutils.LogLevel(LevelWarn),
		Writer:   &buf,
	}
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _ = f.Write([]byte(formatLine(ts, LevelInfo, "quiet") + "\n"))
	_, _ = f.Write([]byte(formatLine(ts, LevelError, "loud", "err", errors.New("boom")) + "\n"))

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("INFO line passed a WARN filter: %q", out)
	}
	if !strings.Contains(out, "[ERROR] loud err=boom") {
		t.Errorf("ERROR line missing from output: %q", out)
	}
}
