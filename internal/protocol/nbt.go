package protocol

import "fmt"

// NBT tag ids.
const (
	nbtEnd       byte = 0
	nbtByte      byte = 1
	nbtShort     byte = 2
	nbtInt       byte = 3
	nbtLong      byte = 4
	nbtFloat     byte = 5
	nbtDouble    byte = 6
	nbtByteArray byte = 7
	nbtString    byte = 8
	nbtList      byte = 9
	nbtCompound  byte = 10
	nbtIntArray  byte = 11
	nbtLongArray byte = 12
)

const maxNBTDepth = 512

// SkipNetworkNBT consumes one nameless root tag (the network NBT form used
// for text components since 1.20.3) without materializing it.
func (r *PacketReader) SkipNetworkNBT() error {
	tag, err := r.ReadByte()
	if err != nil {
		return err
	}
	if tag == nbtEnd {
		return nil
	}
	return r.skipNBTPayload(tag, 0)
}

func (r *PacketReader) skipNBTPayload(tag byte, depth int) error {
	if depth > maxNBTDepth {
		return fmt.Errorf("nbt nesting deeper than %d", maxNBTDepth)
	}
	switch tag {
	case nbtByte:
		_, err := r.take(1)
		return err
	case nbtShort:
		_, err := r.take(2)
		return err
	case nbtInt, nbtFloat:
		_, err := r.take(4)
		return err
	case nbtLong, nbtDouble:
		_, err := r.take(8)
		return err
	case nbtByteArray, nbtIntArray, nbtLongArray:
		n, err := r.ReadInt32()
		if err != nil {
			return err
		}
		width := map[byte]int{nbtByteArray: 1, nbtIntArray: 4, nbtLongArray: 8}[tag]
		_, err = r.take(int(n) * width)
		return err
	case nbtString:
		n, err := r.ReadUint16()
		if err != nil {
			return err
		}
		_, err = r.take(int(n))
		return err
	case nbtList:
		elem, err := r.ReadByte()
		if err != nil {
			return err
		}
		n, err := r.ReadInt32()
		if err != nil {
			return err
		}
		for i := int32(0); i < n; i++ {
			if err := r.skipNBTPayload(elem, depth+1); err != nil {
				return err
			}
		}
		return nil
	case nbtCompound:
		for {
			child, err := r.ReadByte()
			if err != nil {
				return err
			}
			if child == nbtEnd {
				return nil
			}
			nameLen, err := r.ReadUint16()
			if err != nil {
				return err
			}
			if _, err := r.take(int(nameLen)); err != nil {
				return err
			}
			if err := r.skipNBTPayload(child, depth+1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown nbt tag %d", tag)
	}
}
