package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLogFileName(t *testing.T) {
	day := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	if got := LogFileName(day); got != "mchub_2024-05-01.log" {
		t.Errorf("LogFileName = %q", got)
	}
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-10 * 24 * time.Hour)

	for i := 0; i < 4; i++ {
		name := LogFileName(base.Add(time.Duration(i) * 24 * time.Hour))
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		mtime := base.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	// not ours
	other := filepath.Join(dir, "other.log")
	if err := os.WriteFile(other, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if removed := CleanOldLogs(dir, 2); removed != 2 {
		t.Fatalf("removed %d files, want 2", removed)
	}
	for i, wantExists := range []bool{false, false, true, true} {
		path := filepath.Join(dir, LogFileName(base.Add(time.Duration(i)*24*time.Hour)))
		_, err := os.Stat(path)
		if exists := err == nil; exists != wantExists {
			t.Errorf("%s exists = %v, want %v", filepath.Base(path), exists, wantExists)
		}
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("unrelated log file removed")
	}
}

func TestInitLoggerCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if err := InitLogger(LogConfig{Level: "debug", Directory: dir, MaxBackups: 3}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, LogFileName(time.Now()))); err != nil {
		t.Errorf("log file missing: %v", err)
	}
}
