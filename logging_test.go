package main

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogFileNameForDate(t *testing.T) {
	when := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if got := logFileNameForDate(when); got != "22-Jan-2026.log" {
		t.Fatalf("expected log filename to be 22-Jan-2026.log, got %q", got)
	}
}

func TestParseLogFileDate(t *testing.T) {
	parsed, ok := parseLogFileDate("22-Jan-2026.log")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if parsed.Year() != 2026 || parsed.Month() != time.January || parsed.Day() != 22 {
		t.Fatalf("unexpected parsed date: %s", parsed.Format(time.RFC3339))
	}
	if _, ok := parseLogFileDate("notes.txt"); ok {
		t.Fatalf("expected non-log file to be rejected")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"20-Jan-2026.log",
		"21-Jan-2026.log",
		"22-Jan-2026.log",
		"notes.txt",
	}
	for _, name := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	now := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if err := cleanupOldLogs(dir, now, 2); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	expectMissing := []string{"20-Jan-2026.log"}
	for _, name := range expectMissing {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			t.Fatalf("expected %s to be removed", name)
		} else if !os.IsNotExist(err) {
			t.Fatalf("stat %s: %v", name, err)
		}
	}
	expectPresent := []string{"21-Jan-2026.log", "22-Jan-2026.log", "notes.txt"}
	for _, name := range expectPresent {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to remain: %v", name, err)
		}
	}
}

func TestDailyFileSinkRotation(t *testing.T) {
	dir := t.TempDir()
	sink, err := newDailyFileSink(dir, 7)
	if err != nil {
		t.Fatalf("newDailyFileSink: %v", err)
	}
	defer sink.Close()

	day1 := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	sink.WriteLine("first", day1)
	sink.WriteLine("second", day2)

	for _, name := range []string{"22-Jan-2026.log", "23-Jan-2026.log"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
		if len(data) == 0 {
			t.Fatalf("expected %s to have content", name)
		}
	}
}

func TestLogFanoutDebugFiltering(t *testing.T) {
	var console, file bytes.Buffer
	fanout := newLogFanout(
		&ioLineSink{w: &console},
		&ioLineSink{w: &file},
		false,
	)
	logger := log.New(fanout, "", 0)

	logger.Print("spot admitted")
	logger.Print("DEBUG: cache: dropping K1ABC")

	if strings.Contains(console.String(), "DEBUG:") {
		t.Errorf("console should suppress DEBUG lines at info level: %q", console.String())
	}
	if !strings.Contains(console.String(), "spot admitted") {
		t.Errorf("console missing info line: %q", console.String())
	}
	if !strings.Contains(file.String(), "DEBUG: cache: dropping K1ABC") {
		t.Errorf("file should keep DEBUG lines: %q", file.String())
	}
}

func TestLogFanoutSplitsPartialWrites(t *testing.T) {
	var console bytes.Buffer
	fanout := newLogFanout(&ioLineSink{w: &console}, nil, true)

	fanout.Write([]byte("first half "))
	fanout.Write([]byte("second half\nnext line\n"))

	lines := strings.Split(strings.TrimRight(console.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), console.String())
	}
	if lines[0] != "first half second half" {
		t.Errorf("line 1 = %q", lines[0])
	}
}
