package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// PacketBuilder constructs packet bodies in Minecraft wire format.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteBool writes a boolean as one byte.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteByte(1)
	}
	return b.WriteByte(0)
}

// WriteUint16 writes a big-endian uint16.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteInt16 writes a big-endian int16.
func (b *PacketBuilder) WriteInt16(v int16) *PacketBuilder {
	return b.WriteUint16(uint16(v))
}

// WriteInt32 writes a big-endian int32.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteInt64 writes a big-endian int64.
func (b *PacketBuilder) WriteInt64(v int64) *PacketBuilder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteFloat32 writes an IEEE 754 float32.
func (b *PacketBuilder) WriteFloat32(v float32) *PacketBuilder {
	return b.WriteInt32(int32(math.Float32bits(v)))
}

// WriteFloat64 writes an IEEE 754 float64.
func (b *PacketBuilder) WriteFloat64(v float64) *PacketBuilder {
	return b.WriteInt64(int64(math.Float64bits(v)))
}

// WriteVarInt writes a protocol VarInt.
func (b *PacketBuilder) WriteVarInt(v int32) *PacketBuilder {
	b.buf.Write(AppendVarInt(nil, v))
	return b
}

// WriteString writes a VarInt length-prefixed UTF-8 string.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	b.WriteVarInt(int32(len(s)))
	b.buf.WriteString(s)
	return b
}

// WriteUUID writes a UUID as two big-endian longs.
func (b *PacketBuilder) WriteUUID(id uuid.UUID) *PacketBuilder {
	b.buf.Write(id[:])
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// WriteNBTString writes a nameless network NBT string tag, which is the
// smallest valid text component since 1.20.3.
func (b *PacketBuilder) WriteNBTString(s string) *PacketBuilder {
	b.WriteByte(nbtString)
	b.WriteUint16(uint16(len(s)))
	b.buf.WriteString(s)
	return b
}

// Build returns the constructed body.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the body being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current body for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// AppendVarInt appends the VarInt encoding of v to dst.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for {
		if u&^0x7F == 0 {
			return append(dst, byte(u))
		}
		dst = append(dst, byte(u&0x7F|0x80))
		u >>= 7
	}
}

// VarIntSize returns the encoded size of v.
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}
