package hub

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/moeru-ai/airi-sub003/internal/events"
	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

func (h *Hub) onUpstreamConnected(e UpstreamConnected) {
	h.upstream = e.Conn
	h.logger.Info().
		Str("username", e.Conn.Username()).
		Uint64("conn_id", e.Conn.ID()).
		Msg("upstream connected")
}

func (h *Hub) onUpstreamPacket(e UpstreamPacket) {
	name := e.Meta.Name
	h.record(DirTargetToHub, e.Meta.Phase, name, e.Raw)

	if sc, ok := e.Payload.(protocol.SetCompression); ok {
		h.compressionThreshold = int(sc.Threshold)
	}
	if update, ok := e.Payload.(protocol.RosterUpdate); ok {
		h.captureTarget(update)
	}

	switch e.Meta.Phase {
	case protocol.PhaseConfiguration:
		h.configPackets.append(ConfigPacket{
			Raw:                  e.Raw,
			Name:                 name,
			CompressionThreshold: h.compressionThreshold,
		})
		if name == protocol.NameFinishConfiguration && !h.configurationComplete {
			h.configurationComplete = true
			h.logger.Info().Int("buffered", h.configPackets.len()).Msg("upstream configuration finished")
			h.tryDispatch("configuration_finished")
		}

	case protocol.PhasePlay:
		if jg, ok := e.Payload.(protocol.JoinGame); ok {
			h.entityID = jg.EntityID
			h.entityKnown = true
		}
		if !h.initialDispatchDone {
			h.playQueue.push(QueuedPacket{Name: name, Payload: e.Payload})
			return
		}
		h.forward(name, e.Payload)
	}
}

// captureTarget learns the hub's upstream UUID from the first roster entry
// carrying the upstream username.
func (h *Hub) captureTarget(update protocol.RosterUpdate) {
	if h.target.UUID != uuid.Nil {
		return
	}
	for _, entry := range update.Entries {
		if entry.Name != "" && entry.Name == h.target.Username {
			h.target.UUID = entry.UUID
			h.logger.Info().
				Str("username", entry.Name).
				Str("uuid", entry.UUID.String()).
				Msg("captured target identity")
			return
		}
	}
}

// forward delivers a live play packet to every ready session.
func (h *Hub) forward(name string, payload protocol.Payload) {
	for _, s := range h.sessions.all() {
		if !s.ReadyForPlay {
			continue
		}
		h.deliver(s, name, payload)
	}
}

func (h *Hub) deliver(s *Session, name string, payload protocol.Payload) {
	p := payload
	if h.cfg.RewriteIdentity {
		p = Rewrite(name, payload, s.identity(), h.target)
	}
	h.recordWrite(s.Role, name, p)
	if err := s.Downstream.Write(name, p); err != nil {
		h.logger.Error().
			Err(err).
			Str("packet", name).
			Str("role", string(s.Role)).
			Str("username", s.Username).
			Msg("failed to forward packet to downstream")
	}
}

func (h *Hub) onUpstreamEnd(e UpstreamEnd) {
	reason := "stream closed"
	if e.Err != nil {
		reason = e.Err.Error()
	}
	h.upstreamEnded = true
	h.logger.Error().Str("reason", reason).Msg("upstream connection ended, closing every session")

	closed := 0
	for _, s := range h.sessions.clear() {
		closed++
		if s.Downstream.Ended() {
			continue
		}
		if err := s.Downstream.End(ReasonTargetEnd); err != nil {
			h.logger.Warn().Err(err).Str("role", string(s.Role)).Msg("failed to end session")
		}
	}
	h.online.Store(0)

	payload := events.UpstreamPayload{Reason: ReasonTargetEnd, ClosedSessions: closed}
	if e.Err != nil {
		payload.Error = e.Err.Error()
	}
	h.publish(events.EventUpstreamEnded, payload)

	select {
	case h.fatal <- fmt.Errorf("%w: %s", ErrUpstreamEnded, reason):
	default:
	}
}
