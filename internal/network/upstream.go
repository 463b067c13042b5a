package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/moeru-ai/airi-sub003/internal/config"
	"github.com/moeru-ai/airi-sub003/internal/hub"
	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

// DialTimeout bounds the upstream TCP connect.
const DialTimeout = 10 * time.Second

// ErrEncryptionUnsupported is reported when the target server asks for an
// online-mode login.
var ErrEncryptionUnsupported = errors.New("target server requested encryption, only offline upstream auth is supported")

// Upstream is the hub's own client connection to the target server. It
// answers liveness and login packets itself and posts every inbound packet
// to the hub.
type Upstream struct {
	cfg    *config.Config
	table  *protocol.Table
	hub    Poster
	logger zerolog.Logger
	conn   *Conn
}

// NewUpstream prepares the upstream client for cfg.Upstream.
func NewUpstream(cfg *config.Config, h Poster) (*Upstream, error) {
	table, err := protocol.LookupTable(cfg.Version)
	if err != nil {
		return nil, err
	}
	return &Upstream{
		cfg:    cfg,
		table:  table,
		hub:    h,
		logger: log.With().Str("component", "upstream").Logger(),
	}, nil
}

// Connect dials the target, starts the offline login and hands the
// connection to the hub. Inbound packets are read in the background.
func (u *Upstream) Connect(ctx context.Context) error {
	ucfg := u.cfg.Upstream
	addr := net.JoinHostPort(ucfg.Host, strconv.Itoa(ucfg.Port))

	d := net.Dialer{Timeout: DialTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to target server %s: %w", addr, err)
	}

	conn := NewConn(raw, ClientSide, u.table)
	offlineID := protocol.OfflineUUID(ucfg.Username)
	conn.SetIdentity(ucfg.Username, offlineID)

	hs := protocol.Handshake{
		ProtocolVersion: u.table.Protocol,
		ServerAddress:   ucfg.Host,
		ServerPort:      uint16(ucfg.Port),
		NextState:       protocol.NextStateLogin,
	}
	if err := conn.Write(protocol.NameHandshake, hs); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send handshake: %w", err)
	}
	conn.setPhases(protocol.PhaseLogin)

	if err := conn.Write(protocol.NameLoginStart, protocol.LoginStart{Name: ucfg.Username, UUID: offlineID}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send login start: %w", err)
	}

	u.conn = conn
	u.logger.Info().
		Str("addr", addr).
		Str("username", ucfg.Username).
		Str("version", u.table.Version).
		Msg("connecting to target server")

	if !u.hub.Post(hub.UpstreamConnected{Conn: conn}) {
		conn.Close()
		return hub.ErrClosed
	}
	go u.readLoop(conn)
	return nil
}

// Conn returns the live connection, or nil before Connect.
func (u *Upstream) Conn() *Conn {
	return u.conn
}

func (u *Upstream) readLoop(conn *Conn) {
	var endErr error
	for {
		pkt, err := conn.ReadPacket()
		if err != nil {
			if !conn.Ended() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				endErr = err
			}
			break
		}

		if err := u.answer(conn, pkt); err != nil {
			u.hub.Post(hub.UpstreamError{Err: err})
			if errors.Is(err, ErrEncryptionUnsupported) {
				endErr = err
				conn.Close()
				break
			}
		}

		if !u.hub.Post(hub.UpstreamPacket{Meta: pkt.Meta, Raw: pkt.Raw, Payload: pkt.Payload}) {
			return
		}
	}
	u.hub.Post(hub.UpstreamEnd{Err: endErr})
}

// answer handles the packets the hub's identity must reply to itself.
func (u *Upstream) answer(conn *Conn, pkt protocol.Packet) error {
	name := pkt.Meta.Name

	switch pkt.Meta.Phase {
	case protocol.PhaseLogin:
		switch p := pkt.Payload.(type) {
		case protocol.SetCompression:
			conn.SetCompressionThreshold(int(p.Threshold))
			u.logger.Debug().Int32("threshold", p.Threshold).Msg("compression enabled")
		case protocol.LoginSuccess:
			conn.SetIdentity(p.Name, p.UUID)
			if err := conn.Write(protocol.NameLoginAcknowledged, protocol.Empty{}); err != nil {
				return fmt.Errorf("failed to acknowledge login: %w", err)
			}
			conn.SetPhase(protocol.PhaseConfiguration)
			u.logger.Info().Str("username", p.Name).Str("uuid", p.UUID.String()).Msg("logged in to target server")
		case protocol.LoginPluginRequest:
			resp := protocol.LoginPluginResponse{MessageID: p.MessageID, Understood: false}
			if err := conn.Write(protocol.NameLoginPluginResponse, resp); err != nil {
				return fmt.Errorf("failed to answer login plugin request: %w", err)
			}
		case protocol.Disconnect:
			u.logger.Warn().Str("reason", p.Reason).Msg("target server refused login")
		default:
			if name == protocol.NameEncryptionBegin {
				return ErrEncryptionUnsupported
			}
		}

	case protocol.PhaseConfiguration, protocol.PhasePlay:
		switch p := pkt.Payload.(type) {
		case protocol.KeepAlive:
			if err := conn.Write(protocol.NameKeepAlive, p); err != nil {
				return fmt.Errorf("failed to answer keep alive: %w", err)
			}
		case protocol.Ping:
			if err := conn.Write(protocol.NamePong, p); err != nil {
				return fmt.Errorf("failed to answer ping: %w", err)
			}
		case protocol.Disconnect:
			u.logger.Warn().Str("reason", p.Reason).Msg("disconnected by target server")
		}

		switch {
		case pkt.Meta.Phase == protocol.PhaseConfiguration && name == protocol.NameFinishConfiguration:
			if err := conn.Write(protocol.NameFinishConfiguration, protocol.Empty{}); err != nil {
				return fmt.Errorf("failed to acknowledge finish configuration: %w", err)
			}
			conn.SetPhase(protocol.PhasePlay)
		case pkt.Meta.Phase == protocol.PhasePlay && name == protocol.NameStartConfiguration:
			if err := conn.Write(protocol.NameConfigurationAck, protocol.Empty{}); err != nil {
				return fmt.Errorf("failed to acknowledge start configuration: %w", err)
			}
			conn.SetPhase(protocol.PhaseConfiguration)
		}
	}
	return nil
}
