package hub

import (
	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

var movementPackets = map[string]bool{
	protocol.NamePosition:     true,
	protocol.NamePositionLook: true,
	protocol.NameLook:         true,
	protocol.NameFlying:       true,
	protocol.NameVehicleMove:  true,
}

var actionPackets = map[string]bool{
	protocol.NameArmAnimation: true,
	protocol.NameBlockDig:     true,
	protocol.NameBlockPlace:   true,
	protocol.NameUseItem:      true,
	protocol.NameUseEntity:    true,
	protocol.NameHeldItemSlot: true,
	protocol.NameEntityAction: true,
}

// mirrorEligible decides by name and flags alone.
func mirrorEligible(name string, movement, actions bool) bool {
	return (movement && movementPackets[name]) || (actions && actionPackets[name])
}

// mirror offers a controller packet to every ready observer.
func (h *Hub) mirror(name string, payload protocol.Payload) {
	if !mirrorEligible(name, h.cfg.MirrorMovement, h.cfg.MirrorActions) {
		return
	}
	outName, out, ok := h.observerForm(name, payload)
	if !ok {
		h.logger.Debug().Str("packet", name).Msg("no observer-side form, not mirrored")
		return
	}

	for _, s := range h.sessions.all() {
		if s.Role != RoleObserver || !s.ReadyForPlay {
			continue
		}
		h.recordWrite(s.Role, outName, out)
		if err := s.Downstream.Write(outName, out); err != nil {
			h.logger.Error().
				Err(err).
				Str("packet", outName).
				Str("observer", s.Username).
				Msg("failed to mirror packet to observer")
		}
	}
}

// observerForm translates a serverbound controller packet into the
// clientbound packet an observer understands.
func (h *Hub) observerForm(name string, payload protocol.Payload) (string, protocol.Payload, bool) {
	switch p := payload.(type) {
	case protocol.Movement:
		pos := protocol.PlayerPosition{
			X: p.X, Y: p.Y, Z: p.Z,
			Yaw: p.Yaw, Pitch: p.Pitch,
		}
		// absent components are sent as zero relative deltas
		if !p.HasPosition {
			pos.Flags |= protocol.RelativeX | protocol.RelativeY | protocol.RelativeZ
		}
		if !p.HasRotation {
			pos.Flags |= protocol.RelativeYaw | protocol.RelativePitch
		}
		h.teleportID++
		pos.TeleportID = h.teleportID
		return protocol.NamePosition, pos, true

	case protocol.HeldItem:
		return protocol.NameHeldItemSlot, p, true

	case protocol.ArmSwing:
		if !h.entityKnown {
			return "", nil, false
		}
		anim := protocol.AnimationSwingMainArm
		if p.Hand != 0 {
			anim = protocol.AnimationSwingOffhand
		}
		return protocol.NameAnimation, protocol.EntityAnimation{EntityID: h.entityID, Animation: anim}, true

	case protocol.Unrecognized:
		// serverbound and clientbound vehicle_move share a layout
		if name == protocol.NameVehicleMove {
			return protocol.NameVehicleMove, p, true
		}
	}
	return "", nil, false
}
