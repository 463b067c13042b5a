package hub

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by Status once the hub has shut down.
var ErrClosed = errors.New("hub is closed")

// SessionInfo describes one registered session.
type SessionInfo struct {
	ConnID       uint64    `json:"conn_id"`
	Role         Role      `json:"role"`
	Username     string    `json:"username"`
	UUID         string    `json:"uuid"`
	ReadyForPlay bool      `json:"ready_for_play"`
	JoinedAt     time.Time `json:"joined_at"`
}

// Status is a point-in-time snapshot of the hub.
type Status struct {
	StartedAt             time.Time     `json:"started_at"`
	UpstreamConnected     bool          `json:"upstream_connected"`
	UpstreamPhase         string        `json:"upstream_phase,omitempty"`
	UpstreamEnded         bool          `json:"upstream_ended"`
	ConfigurationComplete bool          `json:"configuration_complete"`
	InitialDispatchDone   bool          `json:"initial_dispatch_done"`
	DispatchedAt          *time.Time    `json:"dispatched_at,omitempty"`
	ConfigPackets         int           `json:"config_packets"`
	QueuedPackets         int           `json:"queued_packets"`
	CompressionThreshold  int           `json:"compression_threshold"`
	TargetUsername        string        `json:"target_username"`
	TargetUUID            string        `json:"target_uuid,omitempty"`
	ControlledEntityID    *int32        `json:"controlled_entity_id,omitempty"`
	Sessions              []SessionInfo `json:"sessions"`
}

// Status asks the loop for a snapshot.
func (h *Hub) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if !h.Post(statusQuery{reply: reply}) {
		return Status{}, ErrClosed
	}
	select {
	case st := <-reply:
		return st, nil
	case <-h.done:
		return Status{}, ErrClosed
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (h *Hub) snapshot() Status {
	st := Status{
		StartedAt:             h.startedAt,
		UpstreamConnected:     h.upstream != nil && !h.upstream.Ended(),
		UpstreamEnded:         h.upstreamEnded,
		ConfigurationComplete: h.configurationComplete,
		InitialDispatchDone:   h.initialDispatchDone,
		ConfigPackets:         h.configPackets.len(),
		QueuedPackets:         h.playQueue.len(),
		CompressionThreshold:  h.compressionThreshold,
		TargetUsername:        h.target.Username,
		Sessions:              make([]SessionInfo, 0, h.sessions.len()),
	}
	if h.upstream != nil {
		st.UpstreamPhase = string(h.upstream.Phase())
	}
	if h.initialDispatchDone {
		at := h.dispatchedAt
		st.DispatchedAt = &at
	}
	if h.target.UUID != uuid.Nil {
		st.TargetUUID = h.target.UUID.String()
	}
	if h.entityKnown {
		id := h.entityID
		st.ControlledEntityID = &id
	}
	for _, s := range h.sessions.list {
		st.Sessions = append(st.Sessions, SessionInfo{
			ConnID:       s.Downstream.ID(),
			Role:         s.Role,
			Username:     s.Username,
			UUID:         s.UUID.String(),
			ReadyForPlay: s.ReadyForPlay,
			JoinedAt:     s.JoinedAt,
		})
	}
	return st
}
