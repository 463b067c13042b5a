// Package network implements the hub's Minecraft connections: the
// downstream listeners that accept the controller and observers, and the
// upstream client that logs the hub into the target server.
package network

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

// WriteTimeout bounds every frame write.
const WriteTimeout = 10 * time.Second

// ErrConnClosed is returned by writes on an ended connection.
var ErrConnClosed = errors.New("connection is closed")

// Side tells which end of the protocol a Conn speaks.
type Side int

const (
	// ServerSide connections were accepted by a listener.
	ServerSide Side = iota
	// ClientSide connections were dialed by the hub.
	ClientSide
)

var connIDs atomic.Uint64

// Conn is one framed Minecraft connection. ReadPacket must only be called
// from a single goroutine; writes are safe from any goroutine.
type Conn struct {
	id     uint64
	side   Side
	conn   net.Conn
	reader *bufio.Reader
	table  *protocol.Table

	threshold atomic.Int32
	ended     atomic.Bool

	// inPhase is owned by the reading goroutine.
	inPhase protocol.Phase

	mu       sync.Mutex
	outPhase protocol.Phase
	closed   bool

	identityMu sync.RWMutex
	username   string
	uuid       uuid.UUID
	logger     zerolog.Logger

	connectedAt time.Time
}

// NewConn wraps an established net.Conn. Both directions start in the
// handshaking phase with compression disabled.
func NewConn(conn net.Conn, side Side, table *protocol.Table) *Conn {
	c := &Conn{
		id:          connIDs.Add(1),
		side:        side,
		conn:        conn,
		reader:      bufio.NewReader(conn),
		table:       table,
		inPhase:     protocol.PhaseHandshaking,
		outPhase:    protocol.PhaseHandshaking,
		connectedAt: time.Now(),
	}
	c.threshold.Store(protocol.DisabledThreshold)
	c.logger = log.With().
		Str("component", "connection").
		Uint64("conn_id", c.id).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	return c
}

func (c *Conn) ID() uint64 { return c.id }

func (c *Conn) Username() string {
	c.identityMu.RLock()
	defer c.identityMu.RUnlock()
	return c.username
}

func (c *Conn) UUID() uuid.UUID {
	c.identityMu.RLock()
	defer c.identityMu.RUnlock()
	return c.uuid
}

// SetIdentity records the username and UUID established at login.
func (c *Conn) SetIdentity(username string, id uuid.UUID) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	c.username = username
	c.uuid = id
	c.logger = c.logger.With().Str("username", username).Logger()
}

// connLogger returns the logger carrying the login identity.
func (c *Conn) connLogger() *zerolog.Logger {
	c.identityMu.RLock()
	defer c.identityMu.RUnlock()
	l := c.logger
	return &l
}

// Phase returns the outbound phase.
func (c *Conn) Phase() protocol.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outPhase
}

// SetPhase moves the outbound phase. The inbound phase follows the packets
// read from the peer.
func (c *Conn) SetPhase(p protocol.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outPhase = p
}

// InPhase returns the inbound phase. Only the reading goroutine may call it.
func (c *Conn) InPhase() protocol.Phase {
	return c.inPhase
}

func (c *Conn) setPhases(p protocol.Phase) {
	c.inPhase = p
	c.SetPhase(p)
}

// SetCompressionThreshold applies to both directions; -1 disables.
func (c *Conn) SetCompressionThreshold(th int) {
	c.threshold.Store(int32(th))
}

func (c *Conn) CompressionThreshold() int {
	return int(c.threshold.Load())
}

func (c *Conn) inbound() protocol.Direction {
	if c.side == ServerSide {
		return protocol.Serverbound
	}
	return protocol.Clientbound
}

func (c *Conn) outbound() protocol.Direction {
	return c.inbound().Opposite()
}

// ReadPacket reads, names and decodes the next inbound packet. Meta carries
// the phase the packet was read in; phase transitions the packet implies
// apply to the packets after it.
func (c *Conn) ReadPacket() (protocol.Packet, error) {
	raw, err := protocol.ReadFrame(c.reader, c.CompressionThreshold())
	if err != nil {
		return protocol.Packet{}, err
	}
	id, body, err := protocol.SplitRaw(raw)
	if err != nil {
		return protocol.Packet{}, fmt.Errorf("failed to read packet id: %w", err)
	}

	dir := c.inbound()
	phase := c.inPhase
	name := c.table.Name(phase, dir, id)
	pkt := protocol.Packet{
		Meta:    protocol.Meta{Name: name, Phase: phase, Direction: dir, ID: id},
		Raw:     raw,
		Payload: protocol.Decode(phase, dir, name, body),
	}
	c.advance(pkt)
	return pkt, nil
}

// advance moves the inbound phase on packets that end one.
func (c *Conn) advance(pkt protocol.Packet) {
	switch pkt.Meta.Phase {
	case protocol.PhaseHandshaking:
		if hs, ok := pkt.Payload.(protocol.Handshake); ok {
			next := protocol.PhaseLogin
			if hs.NextState == protocol.NextStateStatus {
				next = protocol.PhaseStatus
			}
			c.setPhases(next)
		}
	case protocol.PhaseLogin:
		if pkt.Meta.Name == protocol.NameLoginAcknowledged || pkt.Meta.Name == protocol.NameLoginSuccess {
			c.inPhase = protocol.PhaseConfiguration
		}
	case protocol.PhaseConfiguration:
		if pkt.Meta.Name == protocol.NameFinishConfiguration {
			c.inPhase = protocol.PhasePlay
		}
	case protocol.PhasePlay:
		if pkt.Meta.Name == protocol.NameStartConfiguration || pkt.Meta.Name == protocol.NameConfigurationAck {
			c.inPhase = protocol.PhaseConfiguration
		}
	}
}

// Write encodes payload as the named packet in the current outbound phase.
func (c *Conn) Write(name string, payload protocol.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	dir := c.outbound()
	id, err := c.table.ID(c.outPhase, dir, name)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	body, err := protocol.Encode(c.outPhase, dir, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return c.writeLocked(protocol.JoinRaw(id, body))
}

// WriteRaw frames already-encoded packet bytes as they are.
func (c *Conn) WriteRaw(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	return c.writeLocked(raw)
}

func (c *Conn) writeLocked(raw []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := protocol.WriteFrame(c.conn, raw, c.CompressionThreshold()); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}

// End closes the connection once. Listener-side connections are first sent
// a disconnect carrying reason when the phase has one.
func (c *Conn) End(reason string) error {
	if c.ended.Swap(true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var writeErr error
	if c.side == ServerSide && reason != "" && !c.closed {
		writeErr = c.writeDisconnectLocked(reason)
	}
	c.closed = true
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	c.connLogger().Debug().Str("reason", reason).Msg("connection ended")
	return writeErr
}

func (c *Conn) writeDisconnectLocked(reason string) error {
	var name string
	switch c.outPhase {
	case protocol.PhaseLogin, protocol.PhaseConfiguration:
		name = protocol.NameDisconnect
	case protocol.PhasePlay:
		name = protocol.NameKickDisconnect
	default:
		return nil
	}
	dir := c.outbound()
	id, err := c.table.ID(c.outPhase, dir, name)
	if err != nil {
		return err
	}
	body, err := protocol.Encode(c.outPhase, dir, protocol.Disconnect{Reason: reason})
	if err != nil {
		return err
	}
	return c.writeLocked(protocol.JoinRaw(id, body))
}

// Close ends the connection without a disconnect packet.
func (c *Conn) Close() error {
	return c.End("")
}

func (c *Conn) Ended() bool {
	return c.ended.Load()
}

// SetReadDeadline bounds the next reads; the zero time clears it.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// ConnectionRegistry tracks connections that have not finished logging in,
// so a listener can close them on shutdown.
type ConnectionRegistry struct {
	mu    sync.Mutex
	conns map[uint64]*Conn
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[uint64]*Conn)}
}

func (r *ConnectionRegistry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
}

func (r *ConnectionRegistry) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c.ID())
}

func (r *ConnectionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every tracked connection.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[uint64]*Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
