// Package scheduler runs the hub's daily housekeeping: packet dump
// retention, audit log pruning and log file rotation.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/moeru-ai/airi-sub003/internal/config"
	"github.com/moeru-ai/airi-sub003/internal/dump"
	"github.com/moeru-ai/airi-sub003/internal/util"
)

// Pruner drops audit events older than a number of days.
type Pruner interface {
	Prune(days int) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg    *config.Config
	audit  Pruner
	logger zerolog.Logger
	now    func() time.Time
}

// NewScheduler creates a new task scheduler. audit may be nil.
func NewScheduler(cfg *config.Config, audit Pruner) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		audit:  audit,
		logger: util.ComponentLogger("scheduler"),
		now:    time.Now,
	}
}

// Start runs housekeeping once, then daily at the configured time, until
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")
	s.RunHousekeeping()

	for {
		nextRun := s.nextRun(s.now())
		sleep := nextRun.Sub(s.now())
		if sleep <= 0 {
			sleep = 24 * time.Hour
		}

		s.logger.Debug().
			Time("next_run", nextRun).
			Dur("sleep", sleep).
			Msg("housekeeping scheduled")

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-time.After(sleep):
			s.RunHousekeeping()
		}
	}
}

// RunHousekeeping performs one pass of every cleanup task.
func (s *Scheduler) RunHousekeeping() {
	if days := s.cfg.Maintenance.DumpRetentionDays; days > 0 {
		count, size, err := cleanDumps(s.cfg.DumpDir, time.Duration(days)*24*time.Hour, s.now())
		if err != nil {
			s.logger.Warn().Err(err).Str("directory", s.cfg.DumpDir).Msg("dump cleaner encountered errors")
		}
		if count > 0 {
			s.logger.Info().
				Int("deleted_files", count).
				Str("freed_space", formatBytes(size)).
				Msg("old packet dumps removed")
		}
	}

	if s.audit != nil && s.cfg.Audit.RetentionDays > 0 {
		n, err := s.audit.Prune(s.cfg.Audit.RetentionDays)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to prune audit log")
		} else if n > 0 {
			s.logger.Info().Int64("removed", n).Msg("pruned old session events")
		}
	}

	if s.cfg.Logging.Directory != "" {
		if n := util.CleanOldLogs(s.cfg.Logging.Directory, s.cfg.Logging.MaxBackups); n > 0 {
			s.logger.Info().Int("removed", n).Msg("removed old log files")
		}
	}
}

// cleanDumps deletes dump files in dir last modified before now-retention.
// A missing directory is not an error.
func cleanDumps(dir string, retention time.Duration, now time.Time) (int, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to read dump directory: %w", err)
	}

	var (
		deletedCount int
		deletedSize  int64
		firstErr     error
	)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, dump.FilePrefix) || filepath.Ext(name) != dump.FileExt {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= retention {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deletedCount++
		deletedSize += info.Size()
	}
	return deletedCount, deletedSize, firstErr
}

// nextRun returns the next occurrence of the configured HH:MM after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	hour, minute := 4, 0
	if t, err := time.Parse("15:04", s.cfg.Maintenance.CleanupTime); err == nil {
		hour, minute = t.Hour(), t.Minute()
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
