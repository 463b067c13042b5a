package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// ReadFrame reads one frame and returns the uncompressed raw packet
// (VarInt id followed by body). threshold < 0 means compression is off.
func ReadFrame(r *bufio.Reader, threshold int) ([]byte, error) {
	length, err := ReadVarIntFrom(r)
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}
	if length > MaxPacketSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrPacketTooLarge, length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("failed to read frame (%d bytes): %w", length, err)
	}
	if threshold < 0 {
		return frame, nil
	}

	body := bytes.NewReader(frame)
	dataLen, err := ReadVarIntFrom(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read data length: %w", err)
	}
	if dataLen == 0 {
		return frame[len(frame)-body.Len():], nil
	}
	if dataLen < 0 || dataLen > MaxInflatedSize {
		return nil, fmt.Errorf("%w: inflated size %d", ErrPacketTooLarge, dataLen)
	}

	zr, err := zlib.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to open zlib stream: %w", err)
	}
	defer zr.Close()

	raw := make([]byte, dataLen)
	if _, err := io.ReadFull(zr, raw); err != nil {
		return nil, fmt.Errorf("failed to inflate packet: %w", err)
	}
	return raw, nil
}

// EncodeFrame frames a raw packet for the given threshold.
func EncodeFrame(raw []byte, threshold int) ([]byte, error) {
	if threshold < 0 {
		out := AppendVarInt(make([]byte, 0, len(raw)+3), int32(len(raw)))
		return append(out, raw...), nil
	}

	var inner []byte
	if len(raw) >= threshold {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("failed to deflate packet: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to deflate packet: %w", err)
		}
		inner = AppendVarInt(nil, int32(len(raw)))
		inner = append(inner, buf.Bytes()...)
	} else {
		inner = AppendVarInt(make([]byte, 0, len(raw)+1), 0)
		inner = append(inner, raw...)
	}

	if len(inner) > MaxPacketSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrPacketTooLarge, len(inner))
	}
	out := AppendVarInt(make([]byte, 0, len(inner)+3), int32(len(inner)))
	return append(out, inner...), nil
}

// WriteFrame frames raw and writes it in a single call.
func WriteFrame(w io.Writer, raw []byte, threshold int) error {
	frame, err := EncodeFrame(raw, threshold)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// SplitRaw separates a raw packet into its id and body.
func SplitRaw(raw []byte) (int32, []byte, error) {
	r := NewPacketReader(raw)
	id, err := r.ReadVarInt()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read packet id: %w", err)
	}
	return id, raw[r.Offset():], nil
}

// JoinRaw builds a raw packet from an id and a body.
func JoinRaw(id int32, body []byte) []byte {
	out := AppendVarInt(make([]byte, 0, len(body)+5), id)
	return append(out, body...)
}
