package hub

import (
	"time"

	"github.com/moeru-ai/airi-sub003/internal/events"
	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

// canDispatch is pure; after the first dispatch it is false forever.
func (h *Hub) canDispatch() bool {
	return h.configurationComplete &&
		h.sessions.hasRole(RoleObserver) &&
		h.sessions.hasRole(RoleController) &&
		!h.initialDispatchDone
}

// tryDispatch runs the initial dispatch if the gate is open. Triggers are
// the upstream finishing configuration and every successful login.
func (h *Hub) tryDispatch(trigger string) bool {
	if !h.canDispatch() {
		return false
	}

	sessions := h.sessions.all()
	for _, s := range sessions {
		h.replay(s)
	}

	queued := h.playQueue.drain()
	for _, p := range queued {
		h.forward(p.Name, p.Payload)
	}

	h.initialDispatchDone = true
	h.dispatchedAt = time.Now()

	h.logger.Info().
		Str("trigger", trigger).
		Int("sessions", len(sessions)).
		Int("config_packets", h.configPackets.len()).
		Int("queued_packets", len(queued)).
		Msg("initial dispatch complete")
	h.publish(events.EventDispatchComplete, events.DispatchPayload{
		Sessions:      len(sessions),
		ConfigPackets: h.configPackets.len(),
		QueuedPackets: len(queued),
	})
	return true
}

// replay writes the whole configuration buffer to one session and marks it
// ready for play.
func (h *Hub) replay(s *Session) {
	conn := s.Downstream
	direction := dirHubToDownstream + string(s.Role)

	conn.SetPhase(protocol.PhaseConfiguration)
	for _, p := range h.configPackets.packets {
		if err := conn.WriteRaw(p.Raw); err != nil {
			h.logger.Error().
				Err(err).
				Str("packet", p.Name).
				Str("role", string(s.Role)).
				Msg("failed to replay configuration packet")
		}
		if p.Name == protocol.NameSetCompression && p.CompressionThreshold >= 0 {
			conn.SetCompressionThreshold(p.CompressionThreshold)
		}
		h.record(direction, protocol.PhaseConfiguration, p.Name, p.Raw)
	}
	conn.SetPhase(protocol.PhasePlay)
	s.ReadyForPlay = true
}
