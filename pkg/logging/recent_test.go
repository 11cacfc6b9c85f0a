package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestRecentHandler(t *testing.T) {
	var out bytes.Buffer
	h := NewRecentHandler(slog.NewTextHandler(&out, nil), 3)
	log := slog.New(h).With("adapter", "eth0")

	log.Info("one")
	log.Warn("two", "n", 2)
	log.WithGroup("rx").Error("three", "ring", 1)
	log.Info("four")

	if !strings.Contains(out.String(), "msg=one") {
		t.Errorf("base handler missed records: %q", out.String())
	}

	got := h.Latest(10, slog.LevelInfo)
	if len(got) != 3 {
		t.Fatalf("Latest returned %d records, want 3", len(got))
	}
	if got[0].Message != "four" || got[2].Message != "two" {
		t.Errorf("order = %q %q %q", got[0].Message, got[1].Message, got[2].Message)
	}
	if got[1].Attrs != "adapter=eth0 rx.ring=1" {
		t.Errorf("attrs = %q", got[1].Attrs)
	}

	warn := h.Latest(10, slog.LevelWarn)
	if len(warn) != 2 || warn[0].Message != "three" {
		t.Errorf("warn-level records = %+v", warn)
	}
	if n := len(h.Latest(1, slog.LevelDebug)); n != 1 {
		t.Errorf("Latest(1) returned %d", n)
	}
}

func TestSetupLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var out bytes.Buffer
	h := Setup(&out, false)
	slog.Debug("hidden")
	slog.Info("shown")
	if strings.Contains(out.String(), "hidden") {
		t.Error("debug record logged at info level")
	}
	if recs := h.Latest(5, slog.LevelDebug); len(recs) != 1 || recs[0].Message != "shown" {
		t.Errorf("recent = %+v", recs)
	}

	out.Reset()
	Setup(&out, true)
	slog.Debug("visible")
	if !strings.Contains(out.String(), "visible") {
		t.Error("debug record dropped with debug enabled")
	}
}
