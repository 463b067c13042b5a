package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moeru-ai/airi-sub003/internal/config"
	"github.com/moeru-ai/airi-sub003/internal/dump"
)

type fakePruner struct{ days []int }

func (f *fakePruner) Prune(days int) (int64, error) {
	f.days = append(f.days, days)
	return 3, nil
}

func touch(t *testing.T, path string, age time.Duration, now time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := now.Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestCleanDumps(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	old := filepath.Join(dir, dump.FileName(now.AddDate(0, 0, -10)))
	fresh := filepath.Join(dir, dump.FileName(now))
	foreign := filepath.Join(dir, "notes.log")
	touch(t, old, 10*24*time.Hour, now)
	touch(t, fresh, time.Hour, now)
	touch(t, foreign, 30*24*time.Hour, now)

	count, size, err := cleanDumps(dir, 7*24*time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 || size != 1 {
		t.Errorf("count = %d, size = %d", count, size)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old dump kept")
	}
	for _, keep := range []string{fresh, foreign} {
		if _, err := os.Stat(keep); err != nil {
			t.Errorf("%s removed: %v", filepath.Base(keep), err)
		}
	}
}

func TestCleanDumpsMissingDirectory(t *testing.T) {
	count, _, err := cleanDumps(filepath.Join(t.TempDir(), "absent"), time.Hour, time.Now())
	if err != nil || count != 0 {
		t.Errorf("count = %d, err = %v", count, err)
	}
}

func TestNextRun(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Maintenance.CleanupTime = "04:30"
	s := NewScheduler(cfg, nil)

	loc := time.UTC
	cases := []struct {
		now, want time.Time
	}{
		{time.Date(2024, 3, 9, 1, 0, 0, 0, loc), time.Date(2024, 3, 9, 4, 30, 0, 0, loc)},
		{time.Date(2024, 3, 9, 4, 30, 0, 0, loc), time.Date(2024, 3, 10, 4, 30, 0, 0, loc)},
		{time.Date(2024, 3, 31, 23, 0, 0, 0, loc), time.Date(2024, 4, 1, 4, 30, 0, 0, loc)},
	}
	for _, c := range cases {
		if got := s.nextRun(c.now); !got.Equal(c.want) {
			t.Errorf("nextRun(%s) = %s, want %s", c.now, got, c.want)
		}
	}
}

func TestRunHousekeeping(t *testing.T) {
	now := time.Now()
	cfg := config.DefaultConfig()
	cfg.DumpDir = t.TempDir()
	cfg.Logging.Directory = t.TempDir()
	cfg.Maintenance.DumpRetentionDays = 1
	cfg.Audit.RetentionDays = 14

	old := filepath.Join(cfg.DumpDir, dump.FileName(now.AddDate(0, 0, -2)))
	touch(t, old, 48*time.Hour, now)

	pruner := &fakePruner{}
	NewScheduler(cfg, pruner).RunHousekeeping()

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("expired dump kept")
	}
	if len(pruner.days) != 1 || pruner.days[0] != 14 {
		t.Errorf("prune calls = %v", pruner.days)
	}

	// Retention of zero keeps everything and skips the audit log.
	cfg.Maintenance.DumpRetentionDays = 0
	cfg.Audit.RetentionDays = 0
	keep := filepath.Join(cfg.DumpDir, dump.FileName(now.AddDate(0, 0, -30)))
	touch(t, keep, 30*24*time.Hour, now)
	NewScheduler(cfg, pruner).RunHousekeeping()
	if _, err := os.Stat(keep); err != nil {
		t.Error("dump removed with retention disabled")
	}
	if len(pruner.days) != 1 {
		t.Errorf("prune calls = %v", pruner.days)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		512:             "512 B",
		2048:            "2.00 KB",
		5 * 1024 * 1024: "5.00 MB",
		3 << 30:         "3.00 GB",
	}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %s, want %s", in, got, want)
		}
	}
}
