package hub

import (
	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

// ConfigPacket is one captured configuration-phase upstream packet.
// CompressionThreshold is the upstream threshold when it was captured,
// or protocol.DisabledThreshold if none had been announced.
type ConfigPacket struct {
	Raw                  []byte
	Name                 string
	CompressionThreshold int
}

// QueuedPacket is a play packet held back until the initial dispatch.
type QueuedPacket struct {
	Name    string
	Payload protocol.Payload
}

// configBuffer is append-only and never pruned so that a session joining
// at any time can be replayed the whole configuration.
type configBuffer struct {
	packets []ConfigPacket
}

func (b *configBuffer) append(p ConfigPacket) {
	b.packets = append(b.packets, p)
}

func (b *configBuffer) len() int {
	return len(b.packets)
}

// playQueue is drained exactly once.
type playQueue struct {
	packets []QueuedPacket
	drained bool
}

func (q *playQueue) push(p QueuedPacket) bool {
	if q.drained {
		return false
	}
	q.packets = append(q.packets, p)
	return true
}

// drain returns the queued packets in capture order and disables the
// queue for the rest of the process.
func (q *playQueue) drain() []QueuedPacket {
	out := q.packets
	q.packets = nil
	q.drained = true
	return out
}

func (q *playQueue) len() int {
	return len(q.packets)
}
