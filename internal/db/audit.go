package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moeru-ai/airi-sub003/internal/events"
)

// DefaultHistoryLimit is used when a caller asks for a non-positive count.
const DefaultHistoryLimit = 20

// SessionEvent is one row of the audit log.
type SessionEvent struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	Role      string    `json:"role,omitempty"`
	Username  string    `json:"username,omitempty"`
	UUID      string    `json:"uuid,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditLog records hub notifications. It is an operator log only; nothing
// is restored from it.
type AuditLog struct {
	db *Database
}

// auditSchema creates the session_events table.
var auditSchema = []string{
	`CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		uuid TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_events_created_at ON session_events(created_at)`,
}

// NewAuditLog opens the audit database at dbPath and migrates it.
func NewAuditLog(dbPath string) (*AuditLog, error) {
	database, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	if err := database.Migrate(context.Background(), auditSchema...); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}
	log.Debug().Str("component", "db").Msg("audit schema migrated")
	return &AuditLog{db: database}, nil
}

// Record appends one event.
func (a *AuditLog) Record(e SessionEvent) error {
	return a.record(context.Background(), e)
}

func (a *AuditLog) record(ctx context.Context, e SessionEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := a.db.Exec(ctx,
		"INSERT INTO session_events (event, role, username, uuid, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.Event, e.Role, e.Username, e.UUID, e.Reason, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", e.Event, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (a *AuditLog) Recent(limit int) ([]SessionEvent, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := a.db.Query(context.Background(),
		"SELECT id, event, role, username, uuid, reason, created_at FROM session_events ORDER BY id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()

	var out []SessionEvent
	for rows.Next() {
		var e SessionEvent
		if err := rows.Scan(&e.ID, &e.Event, &e.Role, &e.Username, &e.UUID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune removes events older than the given number of days.
func (a *AuditLog) Prune(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC()
	res, err := a.db.Exec(context.Background(), "DELETE FROM session_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune session events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Subscribe records every hub notification published on bus.
func (a *AuditLog) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll("audit_log", func(ctx context.Context, ev events.Event) error {
		return a.record(context.WithoutCancel(ctx), FromEvent(ev))
	})
}

// FromEvent flattens a bus notification into an audit row.
func FromEvent(ev events.Event) SessionEvent {
	e := SessionEvent{Event: string(ev.Type), CreatedAt: ev.Timestamp}
	switch p := ev.Payload.(type) {
	case events.SessionPayload:
		e.Role = p.Role
		e.Username = p.Username
		e.UUID = p.UUID
		e.Reason = p.Reason
	case events.DispatchPayload:
		e.Reason = fmt.Sprintf("sessions=%d config_packets=%d queued_packets=%d",
			p.Sessions, p.ConfigPackets, p.QueuedPackets)
	case events.UpstreamPayload:
		e.Reason = p.Reason
		if p.Error != "" {
			e.Reason += ": " + p.Error
		}
	case events.ShutdownPayload:
		e.Reason = p.Reason
	case events.DiskAlertPayload:
		e.Reason = fmt.Sprintf("%s %s at %.1f%%", p.Path, p.Level, p.UsedPercent)
	}
	return e
}

// Close closes the underlying database.
func (a *AuditLog) Close() error {
	return a.db.Close()
}
