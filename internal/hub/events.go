package hub

import (
	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

// Event is a message from a network goroutine to the hub loop. The set is
// closed; the loop handles each variant in handle.
type Event interface {
	hubEvent()
}

// UpstreamConnected hands the hub its upstream connection.
type UpstreamConnected struct {
	Conn Conn
}

// UpstreamPacket is one inbound upstream packet: metadata, uncompressed raw
// bytes, then the decoded payload.
type UpstreamPacket struct {
	Meta    protocol.Meta
	Raw     []byte
	Payload protocol.Payload
}

// UpstreamEnd reports that the upstream stream is gone.
type UpstreamEnd struct {
	Err error
}

// UpstreamError is a non-terminal upstream error.
type UpstreamError struct {
	Err error
}

// DownstreamLogin is a downstream that finished login and waits in the
// configuration phase for validation.
type DownstreamLogin struct {
	Role Role
	Conn Conn
}

// DownstreamPacket is one inbound packet from a registered downstream.
type DownstreamPacket struct {
	ConnID  uint64
	Meta    protocol.Meta
	Raw     []byte
	Payload protocol.Payload
}

// DownstreamEnd reports that a downstream read loop finished.
type DownstreamEnd struct {
	ConnID uint64
}

// DownstreamError is a downstream read error.
type DownstreamError struct {
	ConnID uint64
	Err    error
}

// ListenerError is an accept failure on a role listener.
type ListenerError struct {
	Role Role
	Err  error
}

type statusQuery struct {
	reply chan Status
}

func (UpstreamConnected) hubEvent() {}
func (UpstreamPacket) hubEvent()    {}
func (UpstreamEnd) hubEvent()       {}
func (UpstreamError) hubEvent()     {}
func (DownstreamLogin) hubEvent()   {}
func (DownstreamPacket) hubEvent()  {}
func (DownstreamEnd) hubEvent()     {}
func (DownstreamError) hubEvent()   {}
func (ListenerError) hubEvent()     {}
func (statusQuery) hubEvent()       {}
