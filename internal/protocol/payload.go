package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Payload is the decoded body of a packet. The set of variants is closed:
// every implementation lives in this file.
type Payload interface {
	payload()
}

// Unrecognized is the body of a packet the codec does not model, or of a
// modelled packet that failed to parse. It is re-encoded verbatim.
type Unrecognized struct {
	Body []byte
}

// Empty is a packet without fields.
type Empty struct{}

// Handshake opens every connection.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       int32
}

// StatusResponse carries the server list JSON document.
type StatusResponse struct {
	JSON string
}

// LoginStart is the client's requested identity.
type LoginStart struct {
	Name string
	UUID uuid.UUID
}

// LoginSuccess ends the login phase. Tail holds the encoded profile
// properties.
type LoginSuccess struct {
	UUID uuid.UUID
	Name string
	Tail []byte
}

// LoginPluginRequest is a server custom query during login.
type LoginPluginRequest struct {
	MessageID int32
	Channel   string
	Data      []byte
}

// LoginPluginResponse answers a LoginPluginRequest.
type LoginPluginResponse struct {
	MessageID  int32
	Understood bool
	Data       []byte
}

// SetCompression announces a compression threshold.
type SetCompression struct {
	Threshold int32
}

// Disconnect carries a plain-text reason. In login it travels as a JSON
// text component, afterwards as a network NBT string.
type Disconnect struct {
	Reason string
}

// KeepAlive carries a single long id (keep_alive and the status ping).
type KeepAlive struct {
	ID int64
}

// Ping is the play/configuration ping and its pong.
type Ping struct {
	ID int32
}

// Player info action bits.
const (
	RosterAddPlayer      byte = 0x01
	RosterInitializeChat byte = 0x02
	RosterGameMode       byte = 0x04
	RosterListed         byte = 0x08
	RosterLatency        byte = 0x10
	RosterDisplayName    byte = 0x20
)

// RosterEntry is one player_info entry. Name is only present when the
// packet carries RosterAddPlayer; Tail holds the remaining action data.
type RosterEntry struct {
	UUID uuid.UUID
	Name string
	Tail []byte
}

// RosterUpdate is player_info.
type RosterUpdate struct {
	Actions byte
	Entries []RosterEntry
}

// RosterRemove is player_remove.
type RosterRemove struct {
	UUIDs []uuid.UUID
}

// EntityAppeared is spawn_entity.
type EntityAppeared struct {
	EntityID int32
	UUID     uuid.UUID
	Tail     []byte
}

// GenericID is any packet whose body starts with a single UUID.
type GenericID struct {
	UUID uuid.UUID
	Tail []byte
}

// JoinGame is the play-phase login packet.
type JoinGame struct {
	EntityID int32
	Tail     []byte
}

// Movement is a serverbound position/position_look/look/flying packet.
type Movement struct {
	X, Y, Z     float64
	Yaw, Pitch  float32
	OnGround    bool
	HasPosition bool
	HasRotation bool
}

// Relative flags of the clientbound position packet.
const (
	RelativeX     byte = 0x01
	RelativeY     byte = 0x02
	RelativeZ     byte = 0x04
	RelativeYaw   byte = 0x08
	RelativePitch byte = 0x10
)

// PlayerPosition is the clientbound position packet.
type PlayerPosition struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	Flags      byte
	TeleportID int32
}

// HeldItem is held_item_slot in either direction.
type HeldItem struct {
	Slot int16
}

// ArmSwing is the serverbound arm_animation.
type ArmSwing struct {
	Hand int32
}

// Entity animation ids used by the hub.
const (
	AnimationSwingMainArm byte = 0
	AnimationSwingOffhand byte = 3
)

// EntityAnimation is the clientbound animation packet.
type EntityAnimation struct {
	EntityID  int32
	Animation byte
}

func (Unrecognized) payload()        {}
func (Empty) payload()               {}
func (Handshake) payload()           {}
func (StatusResponse) payload()      {}
func (LoginStart) payload()          {}
func (LoginSuccess) payload()        {}
func (LoginPluginRequest) payload()  {}
func (LoginPluginResponse) payload() {}
func (SetCompression) payload()      {}
func (Disconnect) payload()          {}
func (KeepAlive) payload()           {}
func (Ping) payload()                {}
func (RosterUpdate) payload()        {}
func (RosterRemove) payload()        {}
func (EntityAppeared) payload()      {}
func (GenericID) payload()           {}
func (JoinGame) payload()            {}
func (Movement) payload()            {}
func (PlayerPosition) payload()      {}
func (HeldItem) payload()            {}
func (ArmSwing) payload()            {}
func (EntityAnimation) payload()     {}

type decoderKey struct {
	phase     Phase
	direction Direction
	name      string
}

type decodeFunc func(r *PacketReader, dir Direction) (Payload, error)

var decoders = map[decoderKey]decodeFunc{
	{PhaseHandshaking, Serverbound, NameHandshake}: decodeHandshake,

	{PhaseStatus, Serverbound, NameStatusRequest}: decodeEmpty,
	{PhaseStatus, Clientbound, NameStatusResponse}: decodeStatusResponse,
	{PhaseStatus, Serverbound, NameStatusPing}:     decodeKeepAlive,
	{PhaseStatus, Clientbound, NameStatusPing}:     decodeKeepAlive,

	{PhaseLogin, Serverbound, NameLoginStart}:          decodeLoginStart,
	{PhaseLogin, Serverbound, NameLoginAcknowledged}:   decodeEmpty,
	{PhaseLogin, Serverbound, NameLoginPluginResponse}: decodeLoginPluginResponse,
	{PhaseLogin, Clientbound, NameLoginSuccess}:        decodeLoginSuccess,
	{PhaseLogin, Clientbound, NameSetCompression}:      decodeSetCompression,
	{PhaseLogin, Clientbound, NameDisconnect}:          decodeJSONDisconnect,
	{PhaseLogin, Clientbound, NameLoginPluginRequest}:  decodeLoginPluginRequest,

	{PhaseConfiguration, Clientbound, NameFinishConfiguration}: decodeEmpty,
	{PhaseConfiguration, Serverbound, NameFinishConfiguration}: decodeEmpty,
	{PhaseConfiguration, Clientbound, NameKeepAlive}:           decodeKeepAlive,
	{PhaseConfiguration, Serverbound, NameKeepAlive}:           decodeKeepAlive,
	{PhaseConfiguration, Clientbound, NamePing}:                decodePing,
	{PhaseConfiguration, Serverbound, NamePong}:                decodePing,
	{PhaseConfiguration, Clientbound, NameDisconnect}:          decodeNBTDisconnect,

	{PhasePlay, Clientbound, NameKeepAlive}:          decodeKeepAlive,
	{PhasePlay, Serverbound, NameKeepAlive}:          decodeKeepAlive,
	{PhasePlay, Clientbound, NamePing}:               decodePing,
	{PhasePlay, Serverbound, NamePong}:               decodePing,
	{PhasePlay, Clientbound, NameKickDisconnect}:     decodeNBTDisconnect,
	{PhasePlay, Clientbound, NameStartConfiguration}: decodeEmpty,
	{PhasePlay, Serverbound, NameConfigurationAck}:   decodeEmpty,
	{PhasePlay, Clientbound, NameJoinGame}:           decodeJoinGame,
	{PhasePlay, Clientbound, NamePlayerInfo}:         decodeRosterUpdate,
	{PhasePlay, Clientbound, NamePlayerRemove}:       decodeRosterRemove,
	{PhasePlay, Clientbound, NameSpawnEntity}:        decodeEntityAppeared,
	{PhasePlay, Clientbound, NameBossBar}:            decodeGenericID,
	{PhasePlay, Clientbound, NamePosition}:           decodePlayerPosition,
	{PhasePlay, Clientbound, NameHeldItemSlot}:       decodeHeldItem,
	{PhasePlay, Clientbound, NameAnimation}:          decodeEntityAnimation,
	{PhasePlay, Serverbound, NamePosition}:           decodeMovement(true, false),
	{PhasePlay, Serverbound, NamePositionLook}:       decodeMovement(true, true),
	{PhasePlay, Serverbound, NameLook}:               decodeMovement(false, true),
	{PhasePlay, Serverbound, NameFlying}:             decodeMovement(false, false),
	{PhasePlay, Serverbound, NameHeldItemSlot}:       decodeHeldItem,
	{PhasePlay, Serverbound, NameArmAnimation}:       decodeArmSwing,
}

// Decode turns a packet body into its payload variant. Bodies that fail to
// parse, or that carry trailing bytes, come back as Unrecognized.
func Decode(phase Phase, dir Direction, name string, body []byte) Payload {
	fn, ok := decoders[decoderKey{phase, dir, name}]
	if !ok {
		return Unrecognized{Body: copyBytes(body)}
	}
	r := NewPacketReader(body)
	p, err := fn(r, dir)
	if err != nil || r.Remaining() != 0 {
		return Unrecognized{Body: copyBytes(body)}
	}
	return p
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func decodeEmpty(_ *PacketReader, _ Direction) (Payload, error) {
	return Empty{}, nil
}

func decodeHandshake(r *PacketReader, _ Direction) (Payload, error) {
	var h Handshake
	var err error
	if h.ProtocolVersion, err = r.ReadVarInt(); err != nil {
		return nil, err
	}
	if h.ServerAddress, err = r.ReadString(); err != nil {
		return nil, err
	}
	if h.ServerPort, err = r.ReadUint16(); err != nil {
		return nil, err
	}
	if h.NextState, err = r.ReadVarInt(); err != nil {
		return nil, err
	}
	return h, nil
}

func decodeStatusResponse(r *PacketReader, _ Direction) (Payload, error) {
	s, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return StatusResponse{JSON: s}, nil
}

func decodeLoginStart(r *PacketReader, _ Direction) (Payload, error) {
	name, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	id, err := r.ReadUUID()
	if err != nil {
		return nil, err
	}
	return LoginStart{Name: name, UUID: id}, nil
}

func decodeLoginSuccess(r *PacketReader, _ Direction) (Payload, error) {
	id, err := r.ReadUUID()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return LoginSuccess{UUID: id, Name: name, Tail: r.Rest()}, nil
}

func decodeLoginPluginRequest(r *PacketReader, _ Direction) (Payload, error) {
	id, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	channel, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return LoginPluginRequest{MessageID: id, Channel: channel, Data: r.Rest()}, nil
}

func decodeLoginPluginResponse(r *PacketReader, _ Direction) (Payload, error) {
	id, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	ok, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	return LoginPluginResponse{MessageID: id, Understood: ok, Data: r.Rest()}, nil
}

func decodeSetCompression(r *PacketReader, _ Direction) (Payload, error) {
	v, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	return SetCompression{Threshold: v}, nil
}

type jsonText struct {
	Text string `json:"text"`
}

func decodeJSONDisconnect(r *PacketReader, _ Direction) (Payload, error) {
	s, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	var literal string
	if err := json.Unmarshal([]byte(s), &literal); err == nil {
		return Disconnect{Reason: literal}, nil
	}
	var text jsonText
	if err := json.Unmarshal([]byte(s), &text); err != nil {
		return nil, err
	}
	return Disconnect{Reason: text.Text}, nil
}

func decodeNBTDisconnect(r *PacketReader, _ Direction) (Payload, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag != nbtString {
		return nil, fmt.Errorf("disconnect reason is nbt tag %d, not a string", tag)
	}
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	return Disconnect{Reason: string(b)}, nil
}

func decodeKeepAlive(r *PacketReader, _ Direction) (Payload, error) {
	id, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	return KeepAlive{ID: id}, nil
}

func decodePing(r *PacketReader, _ Direction) (Payload, error) {
	id, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	return Ping{ID: id}, nil
}

func decodeJoinGame(r *PacketReader, _ Direction) (Payload, error) {
	id, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	return JoinGame{EntityID: id, Tail: r.Rest()}, nil
}

func decodeRosterUpdate(r *PacketReader, _ Direction) (Payload, error) {
	actions, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	count, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if count < 0 || int(count) > r.Remaining() {
		return nil, fmt.Errorf("player_info entry count %d out of range", count)
	}

	update := RosterUpdate{Actions: actions, Entries: make([]RosterEntry, 0, count)}
	for i := int32(0); i < count; i++ {
		var entry RosterEntry
		if entry.UUID, err = r.ReadUUID(); err != nil {
			return nil, err
		}
		if actions&RosterAddPlayer != 0 {
			if entry.Name, err = r.ReadString(); err != nil {
				return nil, err
			}
		}
		start := r.Offset()
		if err := skipRosterActions(r, actions); err != nil {
			return nil, err
		}
		entry.Tail = r.Slice(start)
		update.Entries = append(update.Entries, entry)
	}
	return update, nil
}

// skipRosterActions consumes one entry's action data after the name.
func skipRosterActions(r *PacketReader, actions byte) error {
	if actions&RosterAddPlayer != 0 {
		props, err := r.ReadVarInt()
		if err != nil {
			return err
		}
		for j := int32(0); j < props; j++ {
			if _, err := r.ReadString(); err != nil {
				return err
			}
			if _, err := r.ReadString(); err != nil {
				return err
			}
			signed, err := r.ReadBool()
			if err != nil {
				return err
			}
			if signed {
				if _, err := r.ReadString(); err != nil {
					return err
				}
			}
		}
	}
	if actions&RosterInitializeChat != 0 {
		has, err := r.ReadBool()
		if err != nil {
			return err
		}
		if has {
			if _, err := r.ReadUUID(); err != nil {
				return err
			}
			if _, err := r.ReadInt64(); err != nil {
				return err
			}
			if _, err := r.ReadByteArray(); err != nil {
				return err
			}
			if _, err := r.ReadByteArray(); err != nil {
				return err
			}
		}
	}
	if actions&RosterGameMode != 0 {
		if _, err := r.ReadVarInt(); err != nil {
			return err
		}
	}
	if actions&RosterListed != 0 {
		if _, err := r.ReadBool(); err != nil {
			return err
		}
	}
	if actions&RosterLatency != 0 {
		if _, err := r.ReadVarInt(); err != nil {
			return err
		}
	}
	if actions&RosterDisplayName != 0 {
		has, err := r.ReadBool()
		if err != nil {
			return err
		}
		if has {
			if err := r.SkipNetworkNBT(); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeRosterRemove(r *PacketReader, _ Direction) (Payload, error) {
	count, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if count < 0 || int(count)*16 > r.Remaining() {
		return nil, fmt.Errorf("player_remove count %d out of range", count)
	}
	ids := make([]uuid.UUID, count)
	for i := range ids {
		if ids[i], err = r.ReadUUID(); err != nil {
			return nil, err
		}
	}
	return RosterRemove{UUIDs: ids}, nil
}

func decodeEntityAppeared(r *PacketReader, _ Direction) (Payload, error) {
	eid, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	id, err := r.ReadUUID()
	if err != nil {
		return nil, err
	}
	return EntityAppeared{EntityID: eid, UUID: id, Tail: r.Rest()}, nil
}

func decodeGenericID(r *PacketReader, _ Direction) (Payload, error) {
	id, err := r.ReadUUID()
	if err != nil {
		return nil, err
	}
	return GenericID{UUID: id, Tail: r.Rest()}, nil
}

func decodePlayerPosition(r *PacketReader, _ Direction) (Payload, error) {
	var p PlayerPosition
	var err error
	if p.X, err = r.ReadFloat64(); err != nil {
		return nil, err
	}
	if p.Y, err = r.ReadFloat64(); err != nil {
		return nil, err
	}
	if p.Z, err = r.ReadFloat64(); err != nil {
		return nil, err
	}
	if p.Yaw, err = r.ReadFloat32(); err != nil {
		return nil, err
	}
	if p.Pitch, err = r.ReadFloat32(); err != nil {
		return nil, err
	}
	if p.Flags, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if p.TeleportID, err = r.ReadVarInt(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeMovement(position, rotation bool) decodeFunc {
	return func(r *PacketReader, _ Direction) (Payload, error) {
		m := Movement{HasPosition: position, HasRotation: rotation}
		var err error
		if position {
			if m.X, err = r.ReadFloat64(); err != nil {
				return nil, err
			}
			if m.Y, err = r.ReadFloat64(); err != nil {
				return nil, err
			}
			if m.Z, err = r.ReadFloat64(); err != nil {
				return nil, err
			}
		}
		if rotation {
			if m.Yaw, err = r.ReadFloat32(); err != nil {
				return nil, err
			}
			if m.Pitch, err = r.ReadFloat32(); err != nil {
				return nil, err
			}
		}
		if m.OnGround, err = r.ReadBool(); err != nil {
			return nil, err
		}
		return m, nil
	}
}

func decodeHeldItem(r *PacketReader, dir Direction) (Payload, error) {
	if dir == Clientbound {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return HeldItem{Slot: int16(int8(b))}, nil
	}
	v, err := r.ReadInt16()
	if err != nil {
		return nil, err
	}
	return HeldItem{Slot: v}, nil
}

func decodeArmSwing(r *PacketReader, _ Direction) (Payload, error) {
	hand, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	return ArmSwing{Hand: hand}, nil
}

func decodeEntityAnimation(r *PacketReader, _ Direction) (Payload, error) {
	eid, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	anim, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	return EntityAnimation{EntityID: eid, Animation: anim}, nil
}

// Encode serializes a payload into a packet body. The phase and direction
// select between the wire forms of variants that differ by context.
func Encode(phase Phase, dir Direction, p Payload) ([]byte, error) {
	b := NewPacketBuilder()
	switch v := p.(type) {
	case Unrecognized:
		return copyBytes(v.Body), nil
	case Empty:
	case Handshake:
		b.WriteVarInt(v.ProtocolVersion).WriteString(v.ServerAddress).
			WriteUint16(v.ServerPort).WriteVarInt(v.NextState)
	case StatusResponse:
		b.WriteString(v.JSON)
	case LoginStart:
		b.WriteString(v.Name).WriteUUID(v.UUID)
	case LoginSuccess:
		b.WriteUUID(v.UUID).WriteString(v.Name)
		if v.Tail == nil {
			b.WriteVarInt(0)
		} else {
			b.WriteBytes(v.Tail)
		}
	case LoginPluginRequest:
		b.WriteVarInt(v.MessageID).WriteString(v.Channel).WriteBytes(v.Data)
	case LoginPluginResponse:
		b.WriteVarInt(v.MessageID).WriteBool(v.Understood).WriteBytes(v.Data)
	case SetCompression:
		b.WriteVarInt(v.Threshold)
	case Disconnect:
		if phase == PhaseLogin {
			text, err := json.Marshal(jsonText{Text: v.Reason})
			if err != nil {
				return nil, fmt.Errorf("failed to encode disconnect reason: %w", err)
			}
			b.WriteString(string(text))
		} else {
			b.WriteNBTString(v.Reason)
		}
	case KeepAlive:
		b.WriteInt64(v.ID)
	case Ping:
		b.WriteInt32(v.ID)
	case RosterUpdate:
		b.WriteByte(v.Actions).WriteVarInt(int32(len(v.Entries)))
		for _, e := range v.Entries {
			b.WriteUUID(e.UUID)
			if v.Actions&RosterAddPlayer != 0 {
				b.WriteString(e.Name)
			}
			b.WriteBytes(e.Tail)
		}
	case RosterRemove:
		b.WriteVarInt(int32(len(v.UUIDs)))
		for _, id := range v.UUIDs {
			b.WriteUUID(id)
		}
	case EntityAppeared:
		b.WriteVarInt(v.EntityID).WriteUUID(v.UUID).WriteBytes(v.Tail)
	case GenericID:
		b.WriteUUID(v.UUID).WriteBytes(v.Tail)
	case JoinGame:
		b.WriteInt32(v.EntityID).WriteBytes(v.Tail)
	case Movement:
		if v.HasPosition {
			b.WriteFloat64(v.X).WriteFloat64(v.Y).WriteFloat64(v.Z)
		}
		if v.HasRotation {
			b.WriteFloat32(v.Yaw).WriteFloat32(v.Pitch)
		}
		b.WriteBool(v.OnGround)
	case PlayerPosition:
		b.WriteFloat64(v.X).WriteFloat64(v.Y).WriteFloat64(v.Z).
			WriteFloat32(v.Yaw).WriteFloat32(v.Pitch).
			WriteByte(v.Flags).WriteVarInt(v.TeleportID)
	case HeldItem:
		if dir == Clientbound {
			b.WriteByte(byte(v.Slot))
		} else {
			b.WriteInt16(v.Slot)
		}
	case ArmSwing:
		b.WriteVarInt(v.Hand)
	case EntityAnimation:
		b.WriteVarInt(v.EntityID).WriteByte(v.Animation)
	default:
		return nil, fmt.Errorf("cannot encode payload of type %T", p)
	}
	return copyBytes(b.Build()), nil
}
