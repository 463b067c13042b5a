// Package health runs periodic checks on the hub: a status heartbeat for
// telemetry and disk utilization alerts for the dump and log directories.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moeru-ai/airi-sub003/internal/config"
	"github.com/moeru-ai/airi-sub003/internal/events"
	"github.com/moeru-ai/airi-sub003/internal/hub"
	"github.com/moeru-ai/airi-sub003/internal/util"
)

const source = "health_check"

// StatusSource provides hub snapshots.
type StatusSource interface {
	Status(ctx context.Context) (hub.Status, error)
}

// Manager runs periodic health checks.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	hub      StatusSource
	logger   zerolog.Logger

	// diskUsage is swapped in tests.
	diskUsage func(path string) (*util.DiskUsage, error)

	mu         sync.Mutex
	diskLevels map[string]string
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus, h StatusSource) *Manager {
	return &Manager{
		cfg:        cfg,
		eventBus:   eventBus,
		hub:        h,
		logger:     util.ComponentLogger("health"),
		diskUsage:  util.GetDiskUsage,
		diskLevels: make(map[string]string),
	}
}

// Start launches every enabled check and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.Maintenance

	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"heartbeat", timers.HeartbeatInterval, m.heartbeat},
		{"disk_utilization", timers.DiskCheckInterval, m.checkDiskUtilization},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		check := check
		go func() {
			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()

			m.logger.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	m.logger.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	m.logger.Info().Msg("health check manager stopped")
}

// heartbeat publishes a summary of the relay and the hub process.
func (m *Manager) heartbeat(ctx context.Context) {
	st, err := m.hub.Status(ctx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("heartbeat skipped")
		return
	}

	payload := events.HeartbeatPayload{
		UpstreamConnected: st.UpstreamConnected && !st.UpstreamEnded,
		Dispatched:        st.InitialDispatchDone,
		Sessions:          len(st.Sessions),
		ConfigPackets:     st.ConfigPackets,
		QueuedPackets:     st.QueuedPackets,
	}
	if proc, err := util.GetProcessStats(); err == nil {
		payload.Goroutines = proc.Goroutines
		payload.RSSMB = proc.RSSMB
		payload.CPUPercent = proc.CPUPercent
	}

	m.logger.Debug().
		Int("sessions", payload.Sessions).
		Bool("dispatched", payload.Dispatched).
		Int("queued_packets", payload.QueuedPackets).
		Uint64("rss_mb", payload.RSSMB).
		Msg("heartbeat")

	m.eventBus.Publish(ctx, events.EventHeartbeat, source, payload)
}

// checkDiskUtilization alerts when a directory the hub writes to crosses a
// utilization threshold. Each level is reported once until it changes.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	paths := []string{m.cfg.Logging.Directory}
	if m.cfg.DumpPackets {
		paths = append(paths, m.cfg.DumpDir)
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		usage, err := m.diskUsage(path)
		if err != nil {
			m.logger.Warn().Err(err).Str("path", path).Msg("disk utilization check failed")
			continue
		}

		m.logger.Debug().
			Str("path", path).
			Float64("used_percent", usage.UsedPercent).
			Uint64("free_gb", usage.Free).
			Msg("disk utilization")

		level := AlertLevel(usage.UsedPercent)

		m.mu.Lock()
		previous := m.diskLevels[path]
		m.diskLevels[path] = level
		m.mu.Unlock()

		if level == "" || level == previous {
			continue
		}

		message := fmt.Sprintf("Disk usage at %.1f%% (%d GB free of %d GB total)",
			usage.UsedPercent, usage.Free, usage.Total)
		m.logger.Warn().Str("path", path).Str("level", level).Msg(message)

		m.eventBus.Publish(ctx, events.EventDiskAlert, source, events.DiskAlertPayload{
			Path:        path,
			Level:       level,
			UsedPercent: usage.UsedPercent,
			FreeGB:      usage.Free,
		})
	}
}

// AlertLevel maps disk utilization to an alert level, or "" below 80%.
func AlertLevel(usedPercent float64) string {
	switch {
	case usedPercent >= 100:
		return "critical"
	case usedPercent >= 95:
		return "error"
	case usedPercent >= 90:
		return "warning"
	case usedPercent >= 80:
		return "info"
	default:
		return ""
	}
}
