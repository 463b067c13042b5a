// Package protocol implements the Minecraft Java wire codec used by the hub:
// VarInt framed packets with optional zlib compression, packet id/name tables
// per protocol phase, and a small closed set of typed payload variants. All
// multi-byte integers are big-endian.
package protocol

import (
	"errors"
	"fmt"
)

// Phase is the protocol state a connection is in. Packet ids are only
// meaningful together with a phase and a direction.
type Phase string

const (
	PhaseHandshaking   Phase = "handshaking"
	PhaseStatus        Phase = "status"
	PhaseLogin         Phase = "login"
	PhaseConfiguration Phase = "configuration"
	PhasePlay          Phase = "play"
)

// Direction tells which side sent a packet.
type Direction string

const (
	Clientbound Direction = "clientbound" // server -> client
	Serverbound Direction = "serverbound" // client -> server
)

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == Clientbound {
		return Serverbound
	}
	return Clientbound
}

// Handshake next-state values.
const (
	NextStateStatus   int32 = 1
	NextStateLogin    int32 = 2
	NextStateTransfer int32 = 3
)

// Packet names the hub and the connection layer refer to directly.
const (
	NameHandshake           = "set_protocol"
	NameStatusRequest       = "ping_start"
	NameStatusResponse      = "server_info"
	NameStatusPing          = "ping"
	NameLoginStart          = "login_start"
	NameLoginSuccess        = "success"
	NameLoginAcknowledged   = "login_acknowledged"
	NameEncryptionBegin     = "encryption_begin"
	NameLoginPluginRequest  = "login_plugin_request"
	NameLoginPluginResponse = "login_plugin_response"
	NameSetCompression      = "set_compression"
	NameDisconnect          = "disconnect"
	NameKickDisconnect      = "kick_disconnect"
	NameFinishConfiguration = "finish_configuration"
	NameStartConfiguration  = "start_configuration"
	NameConfigurationAck    = "configuration_acknowledged"
	NameKeepAlive           = "keep_alive"
	NamePing                = "ping"
	NamePong                = "pong"
	NameJoinGame            = "login"
	NamePlayerInfo          = "player_info"
	NamePlayerRemove        = "player_remove"
	NameSpawnEntity         = "spawn_entity"
	NameBossBar             = "boss_bar"
	NamePosition            = "position"
	NamePositionLook        = "position_look"
	NameLook                = "look"
	NameFlying              = "flying"
	NameVehicleMove         = "vehicle_move"
	NameHeldItemSlot        = "held_item_slot"
	NameArmAnimation        = "arm_animation"
	NameAnimation           = "animation"
	NameBlockDig            = "block_dig"
	NameBlockPlace          = "block_place"
	NameUseItem             = "use_item"
	NameUseEntity           = "use_entity"
	NameEntityAction        = "entity_action"
)

// MaxPacketSize is the largest frame a VarInt length prefix of three bytes
// can describe.
const MaxPacketSize = 2097151

// MaxInflatedSize bounds the size of a decompressed packet.
const MaxInflatedSize = 8 << 20

// DisabledThreshold disables compression on a connection.
const DisabledThreshold = -1

var (
	// ErrPacketTooLarge is returned for frames above MaxPacketSize or
	// inflated packets above MaxInflatedSize.
	ErrPacketTooLarge = errors.New("packet too large")

	// ErrUnknownPacket is returned when a name has no id in the current
	// phase and direction.
	ErrUnknownPacket = errors.New("unknown packet")

	// ErrVarIntTooBig is returned for VarInts longer than five bytes.
	ErrVarIntTooBig = errors.New("varint too big")
)

// Meta describes a packet as it crossed a connection.
type Meta struct {
	Name      string
	Phase     Phase
	Direction Direction
	ID        int32
}

func (m Meta) String() string {
	return fmt.Sprintf("%s/%s/%s(0x%02X)", m.Phase, m.Direction, m.Name, m.ID)
}

// Packet is one inbound packet: its metadata, the uncompressed raw bytes
// (packet id followed by body) and the decoded payload.
type Packet struct {
	Meta    Meta
	Raw     []byte
	Payload Payload
}
