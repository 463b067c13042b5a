package hub

import (
	"time"

	"github.com/moeru-ai/airi-sub003/internal/events"
	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

// validateLogin returns the rejection reason for a login, or "".
func (h *Hub) validateLogin(role Role, username string) string {
	switch role {
	case RoleObserver:
		if expected := h.cfg.ObserverUsername(); expected != "" && username != expected {
			return ReasonObserverAuth
		}
	case RoleController:
		if username != h.cfg.Controller.Username {
			return ReasonControlAuth
		}
	default:
		return "unknown_role"
	}
	return ""
}

func (h *Hub) onDownstreamLogin(e DownstreamLogin) {
	conn := e.Conn
	username := conn.Username()
	logger := h.logger.With().
		Str("role", string(e.Role)).
		Str("username", username).
		Uint64("conn_id", conn.ID()).
		Logger()

	if reason := h.validateLogin(e.Role, username); reason != "" {
		logger.Error().Str("reason", reason).Msg("rejected login: identity mismatch")
		if err := conn.End(reason); err != nil {
			logger.Warn().Err(err).Msg("failed to end rejected connection")
		}
		h.publish(events.EventLoginRejected, events.SessionPayload{
			Role:     string(e.Role),
			Username: username,
			Reason:   reason,
		})
		return
	}
	if h.upstreamEnded {
		logger.Warn().Msg("rejected login: upstream has ended")
		_ = conn.End(ReasonTargetEnd)
		return
	}

	s := &Session{
		Role:       e.Role,
		Username:   username,
		UUID:       conn.UUID(),
		Downstream: conn,
		JoinedAt:   time.Now(),
	}
	h.sessions.add(s)
	h.online.Store(int32(h.sessions.len()))
	logger.Info().Msg("hub client connected")

	conn.SetPhase(protocol.PhaseConfiguration)
	replayed := false
	if h.configurationComplete && h.initialDispatchDone {
		h.replay(s)
		replayed = true
		logger.Info().Int("config_packets", h.configPackets.len()).Msg("late joiner replayed")
	}

	h.publish(events.EventSessionJoined, events.SessionPayload{
		Role:     string(s.Role),
		Username: s.Username,
		UUID:     s.UUID.String(),
		Replayed: replayed,
	})

	h.tryDispatch("login")
}

func (h *Hub) onDownstreamEnd(e DownstreamEnd) {
	s := h.sessions.remove(e.ConnID)
	if s == nil {
		return
	}
	h.online.Store(int32(h.sessions.len()))

	reason := string(s.Role) + "_end"
	h.logger.Info().
		Str("role", string(s.Role)).
		Str("username", s.Username).
		Str("reason", reason).
		Msg("closing hub session")
	if !s.Downstream.Ended() {
		if err := s.Downstream.End(reason); err != nil {
			h.logger.Warn().Err(err).Str("role", string(s.Role)).Msg("failed to end session")
		}
	}

	h.publish(events.EventSessionLeft, events.SessionPayload{
		Role:     string(s.Role),
		Username: s.Username,
		UUID:     s.UUID.String(),
		Reason:   reason,
	})
}
