// Package events defines the notifications the hub publishes for side
// consumers (audit log, telemetry, console) and the bus that carries them.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle
	EventSessionJoined EventType = "session_joined"
	EventSessionLeft   EventType = "session_left"
	EventLoginRejected EventType = "login_rejected"

	// Relay state
	EventDispatchComplete EventType = "dispatch_complete"
	EventUpstreamEnded    EventType = "upstream_ended"

	// System events
	EventShutdown  EventType = "shutdown"
	EventDiskAlert EventType = "disk_alert"

	// Periodic status; not part of AllEventTypes.
	EventHeartbeat EventType = "heartbeat"
)

// AllEventTypes lists every notification, in the order consumers usually
// subscribe to them. Heartbeats are left out and must be subscribed to
// explicitly.
var AllEventTypes = []EventType{
	EventSessionJoined,
	EventSessionLeft,
	EventLoginRejected,
	EventDispatchComplete,
	EventUpstreamEnded,
	EventShutdown,
	EventDiskAlert,
}

// Event represents a single event in the system.
type Event struct {
	Type      EventType
	Source    string
	Timestamp time.Time
	Payload   interface{}
}

// SessionPayload describes a downstream session joining, leaving or being
// rejected at login.
type SessionPayload struct {
	Role     string `json:"role"`
	Username string `json:"username"`
	UUID     string `json:"uuid,omitempty"`
	Reason   string `json:"reason,omitempty"`
	// Replayed is true when the session joined after the initial dispatch
	// and was replayed the configuration on its own.
	Replayed bool `json:"replayed,omitempty"`
}

// DispatchPayload describes the one-time initial dispatch.
type DispatchPayload struct {
	Sessions      int `json:"sessions"`
	ConfigPackets int `json:"config_packets"`
	QueuedPackets int `json:"queued_packets"`
}

// UpstreamPayload describes the end of the upstream connection.
type UpstreamPayload struct {
	Reason         string `json:"reason"`
	Error          string `json:"error,omitempty"`
	ClosedSessions int    `json:"closed_sessions"`
}

// ShutdownPayload describes a hub shutdown.
type ShutdownPayload struct {
	Reason string `json:"reason"`
}

// DiskAlertPayload reports a disk crossing a utilization threshold.
type DiskAlertPayload struct {
	Path        string  `json:"path"`
	Level       string  `json:"level"`
	UsedPercent float64 `json:"used_percent"`
	FreeGB      uint64  `json:"free_gb"`
}

// HeartbeatPayload is a periodic summary of the hub and its process.
type HeartbeatPayload struct {
	UpstreamConnected bool    `json:"upstream_connected"`
	Dispatched        bool    `json:"dispatched"`
	Sessions          int     `json:"sessions"`
	ConfigPackets     int     `json:"config_packets"`
	QueuedPackets     int     `json:"queued_packets"`
	Goroutines        int     `json:"goroutines"`
	RSSMB             uint64  `json:"rss_mb"`
	CPUPercent        float64 `json:"cpu_percent"`
}
