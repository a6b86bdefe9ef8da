package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func captureOutput(t *testing.T, fn func()) []LogEntry {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	fn()

	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("Log line is not valid JSON: %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestInfoEntryShape(t *testing.T) {
	entries := captureOutput(t, func() {
		Info("relay started", F("addr", ":4317", "workers", 2))
	})

	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Body != "relay started" {
		t.Errorf("Body = %q", e.Body)
	}
	if e.SeverityText != "INFO" {
		t.Errorf("SeverityText = %q", e.SeverityText)
	}
	if e.SeverityNumber != 9 {
		t.Errorf("SeverityNumber = %d, expected 9", e.SeverityNumber)
	}
	if e.Attributes["addr"] != ":4317" {
		t.Errorf("Attributes = %v", e.Attributes)
	}
	if e.Timestamp == "" {
		t.Error("Timestamp missing")
	}
}

func TestMinLevelFilters(t *testing.T) {
	SetMinLevel(LevelWarn)
	defer SetMinLevel(LevelInfo)

	entries := captureOutput(t, func() {
		Debug("drop me")
		Info("drop me too")
		Warn("keep me")
		Error("keep me too")
	})

	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries above WARN, got %d", len(entries))
	}
	if entries[0].SeverityText != "WARN" || entries[1].SeverityText != "ERROR" {
		t.Errorf("Entries = %v", entries)
	}
}

func TestResourceAttached(t *testing.T) {
	SetResource(map[string]string{"service.name": "otlp-relay"})
	defer SetResource(nil)

	entries := captureOutput(t, func() {
		Info("with resource")
	})

	if len(entries) != 1 || entries[0].Resource["service.name"] != "otlp-relay" {
		t.Errorf("Resource not attached: %v", entries)
	}
}

func TestHookReceivesEntries(t *testing.T) {
	var gotLevel Level
	var gotMsg string
	SetHook(func(level Level, msg string, attrs map[string]interface{}) {
		gotLevel = level
		gotMsg = msg
	})
	defer SetHook(nil)

	captureOutput(t, func() {
		Warn("hooked")
	})

	if gotLevel != LevelWarn || gotMsg != "hooked" {
		t.Errorf("Hook got (%s, %q)", gotLevel, gotMsg)
	}
}

func TestHookNotCalledBelowMinLevel(t *testing.T) {
	called := false
	SetHook(func(Level, string, map[string]interface{}) { called = true })
	defer SetHook(nil)
	SetMinLevel(LevelError)
	defer SetMinLevel(LevelInfo)

	captureOutput(t, func() {
		Info("filtered")
	})

	if called {
		t.Error("Hook must not fire for filtered entries")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %s, expected %s", input, got, want)
		}
	}
}

func TestSeverityNumbers(t *testing.T) {
	cases := map[Level]int{
		LevelDebug: 5,
		LevelInfo:  9,
		LevelWarn:  13,
		LevelError: 17,
		LevelFatal: 21,
	}
	for level, want := range cases {
		if got := SeverityNumber(level); got != want {
			t.Errorf("SeverityNumber(%s) = %d, expected %d", level, got, want)
		}
	}
}

func TestFSkipsDanglingKey(t *testing.T) {
	fields := F("a", 1, "b")
	if len(fields) != 1 || fields["a"] != 1 {
		t.Errorf("F = %v", fields)
	}
}
