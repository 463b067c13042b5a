package hub

import (
	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

// hubOwnedPackets are answered by the upstream connection itself, so the
// controller's copies are dropped.
var hubOwnedPackets = map[string]bool{
	protocol.NameKeepAlive:        true,
	protocol.NamePong:             true,
	protocol.NameConfigurationAck: true,
}

func (h *Hub) onDownstreamPacket(e DownstreamPacket) {
	s := h.sessions.get(e.ConnID)
	if s == nil {
		return
	}
	h.record(DirDownstreamToHub, e.Meta.Phase, e.Meta.Name, e.Raw)

	// Observers never reach upstream.
	if s.Role != RoleController || e.Meta.Phase != protocol.PhasePlay {
		return
	}

	h.relayUpstream(s, e)
	h.mirror(e.Meta.Name, e.Payload)
}

func (h *Hub) relayUpstream(s *Session, e DownstreamPacket) {
	name := e.Meta.Name
	if hubOwnedPackets[name] {
		return
	}
	if h.upstream == nil || h.upstream.Ended() || h.upstream.Phase() != protocol.PhasePlay {
		h.logger.Debug().Str("packet", name).Msg("upstream not in play, dropping controller packet")
		return
	}

	var err error
	if h.cfg.RewriteIdentity {
		err = h.upstream.Write(name, e.Payload)
	} else {
		err = h.upstream.WriteRaw(e.Raw)
	}
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("packet", name).
			Str("role", string(s.Role)).
			Msg("failed to forward packet to target server")
	}
}
