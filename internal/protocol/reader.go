package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
)

// maxStringBytes caps protocol strings (32767 UTF-16 units, up to 3 bytes each).
const maxStringBytes = 32767 * 3

// PacketReader reads Minecraft wire types from a packet body.
type PacketReader struct {
	data []byte
	off  int
}

// NewPacketReader wraps a packet body.
func NewPacketReader(data []byte) *PacketReader {
	return &PacketReader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *PacketReader) Remaining() int {
	return len(r.data) - r.off
}

// Rest returns a copy of all unread bytes and consumes them.
func (r *PacketReader) Rest() []byte {
	rest := make([]byte, r.Remaining())
	copy(rest, r.data[r.off:])
	r.off = len(r.data)
	return rest
}

// Offset returns the current read position.
func (r *PacketReader) Offset() int {
	return r.off
}

// Slice returns a copy of body[from:current offset].
func (r *PacketReader) Slice(from int) []byte {
	out := make([]byte, r.off-from)
	copy(out, r.data[from:r.off])
	return out
}

func (r *PacketReader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// ReadByte reads one byte.
func (r *PacketReader) ReadByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBool reads a one-byte boolean.
func (r *PacketReader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

// ReadUint16 reads a big-endian uint16.
func (r *PacketReader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadInt16 reads a big-endian int16.
func (r *PacketReader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadInt32 reads a big-endian int32.
func (r *PacketReader) ReadInt32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// ReadInt64 reads a big-endian int64.
func (r *PacketReader) ReadInt64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ReadFloat32 reads an IEEE 754 float32.
func (r *PacketReader) ReadFloat32() (float32, error) {
	v, err := r.ReadInt32()
	return math.Float32frombits(uint32(v)), err
}

// ReadFloat64 reads an IEEE 754 float64.
func (r *PacketReader) ReadFloat64() (float64, error) {
	v, err := r.ReadInt64()
	return math.Float64frombits(uint64(v)), err
}

// ReadVarInt reads a protocol VarInt.
func (r *PacketReader) ReadVarInt() (int32, error) {
	var result uint32
	for i := 0; i < 5; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, ErrVarIntTooBig
}

// ReadString reads a VarInt length-prefixed string.
func (r *PacketReader) ReadString() (string, error) {
	n, err := r.ReadVarInt()
	if err != nil {
		return "", err
	}
	if n < 0 || n > maxStringBytes {
		return "", fmt.Errorf("string length %d out of range", n)
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadByteArray reads a VarInt length-prefixed byte array.
func (r *PacketReader) ReadByteArray() ([]byte, error) {
	n, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadUUID reads a 128-bit UUID.
func (r *PacketReader) ReadUUID() (uuid.UUID, error) {
	var id uuid.UUID
	b, err := r.take(16)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// ReadVarIntFrom decodes a VarInt from an io.ByteReader (used for framing).
func ReadVarIntFrom(br io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < 5; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, ErrVarIntTooBig
}
