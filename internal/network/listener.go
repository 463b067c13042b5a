package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/moeru-ai/airi-sub003/internal/config"
	"github.com/moeru-ai/airi-sub003/internal/hub"
	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

const (
	// HandshakeTimeout bounds everything before a connection is handed to
	// the hub.
	HandshakeTimeout = 30 * time.Second

	statusMaxPlayers = 10
	acceptBackoff    = 50 * time.Millisecond
)

// Poster is the part of the hub the network layer talks to.
type Poster interface {
	Post(hub.Event) bool
	Online() int
}

// Listener accepts downstream clients for one role. It answers status
// pings, performs the offline login and hands logged-in connections to the
// hub; identity checks happen in the hub.
type Listener struct {
	role    hub.Role
	lcfg    config.ListenerConfig
	cfg     *config.Config
	table   *protocol.Table
	hub     Poster
	logger  zerolog.Logger
	pending *ConnectionRegistry
	limiter *rateTracker

	ln      net.Listener
	stopped atomic.Bool
}

// NewListener creates the listener for role.
func NewListener(role hub.Role, cfg *config.Config, h Poster) (*Listener, error) {
	table, err := protocol.LookupTable(cfg.Version)
	if err != nil {
		return nil, err
	}

	var lcfg config.ListenerConfig
	switch role {
	case hub.RoleObserver:
		lcfg = cfg.Observer.Listener()
	case hub.RoleController:
		lcfg = cfg.Controller.Listener()
	default:
		return nil, fmt.Errorf("unknown listener role %q", role)
	}

	return &Listener{
		role:    role,
		lcfg:    lcfg,
		cfg:     cfg,
		table:   table,
		hub:     h,
		logger:  log.With().Str("component", "listener").Str("role", string(role)).Logger(),
		pending: NewConnectionRegistry(),
		limiter: newRateTracker(DefaultMaxConnPerSec),
	}, nil
}

// Start binds the listener and accepts connections in the background until
// ctx is cancelled or Close is called.
func (l *Listener) Start(ctx context.Context) error {
	addr := l.lcfg.Addr()

	// SO_REUSEADDR allows immediate rebinding after a restart
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start %s listener on %s: %w", l.role, addr, err)
	}
	l.ln = ln

	if l.lcfg.OnlineMode {
		l.logger.Warn().Msg("online mode requested, session server verification is not performed by the hub")
	}
	l.logger.Info().Str("addr", ln.Addr().String()).Msg("listener started")

	go func() {
		<-ctx.Done()
		l.Close()
	}()
	go l.acceptLoop()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *Listener) acceptLoop() {
	for {
		raw, err := l.ln.Accept()
		if err != nil {
			if l.stopped.Load() || errors.Is(err, net.ErrClosed) {
				l.logger.Info().Msg("listener stopping")
				return
			}
			l.hub.Post(hub.ListenerError{Role: l.role, Err: err})
			time.Sleep(acceptBackoff)
			continue
		}

		src := extractIP(raw.RemoteAddr())
		if !l.limiter.allow(src) {
			l.logger.Warn().Str("src", src).Msg("connection rate limit exceeded, dropping connection")
			raw.Close()
			continue
		}
		if l.pending.Count() >= DefaultMaxPendingConns {
			l.logger.Warn().Str("src", src).Msg("too many pending logins, dropping connection")
			raw.Close()
			continue
		}

		go l.handleConnection(raw)
	}
}

func (l *Listener) handleConnection(raw net.Conn) {
	conn := NewConn(raw, ServerSide, l.table)
	logger := l.logger.With().Uint64("conn_id", conn.ID()).Str("remote", raw.RemoteAddr().String()).Logger()

	l.pending.Register(conn)
	ok, err := l.handshake(conn)
	l.pending.Unregister(conn)
	if err != nil {
		if !conn.Ended() {
			logger.Debug().Err(err).Msg("handshake failed")
		}
		conn.Close()
		return
	}
	if !ok {
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Time{})
	logger.Info().Str("username", conn.Username()).Msg("downstream logged in")
	if !l.hub.Post(hub.DownstreamLogin{Role: l.role, Conn: conn}) {
		conn.End(hub.ReasonHubShutdown)
		return
	}
	l.readLoop(conn)
}

// handshake runs everything up to login_acknowledged. It returns true when
// the connection is logged in and ready for the hub.
func (l *Listener) handshake(conn *Conn) (bool, error) {
	conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))

	pkt, err := conn.ReadPacket()
	if err != nil {
		return false, fmt.Errorf("failed to read handshake: %w", err)
	}
	hs, ok := pkt.Payload.(protocol.Handshake)
	if !ok {
		return false, fmt.Errorf("expected handshake, got %s", pkt.Meta)
	}

	if conn.InPhase() == protocol.PhaseStatus {
		return false, l.serveStatus(conn)
	}

	if hs.ProtocolVersion != l.table.Protocol {
		reason := fmt.Sprintf("Unsupported protocol version %d, this hub speaks %s (protocol %d)",
			hs.ProtocolVersion, l.table.Version, l.table.Protocol)
		l.logger.Warn().Int32("protocol", hs.ProtocolVersion).Msg("rejected client with mismatched protocol")
		conn.End(reason)
		return false, nil
	}

	if err := l.login(conn); err != nil {
		return false, err
	}
	return true, nil
}

type statusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

type statusPlayers struct {
	Max    int `json:"max"`
	Online int `json:"online"`
}

type statusDescription struct {
	Text string `json:"text"`
}

type serverStatus struct {
	Version     statusVersion     `json:"version"`
	Players     statusPlayers     `json:"players"`
	Description statusDescription `json:"description"`
}

// StatusJSON renders the server list response.
func StatusJSON(version string, protocolVersion int32, online int, motd string) (string, error) {
	data, err := json.Marshal(serverStatus{
		Version:     statusVersion{Name: version, Protocol: protocolVersion},
		Players:     statusPlayers{Max: statusMaxPlayers, Online: online},
		Description: statusDescription{Text: motd},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode status: %w", err)
	}
	return string(data), nil
}

// serveStatus answers status requests and pings until the client leaves.
func (l *Listener) serveStatus(conn *Conn) error {
	for {
		pkt, err := conn.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch p := pkt.Payload.(type) {
		case protocol.Empty:
			body, err := StatusJSON(l.table.Version, l.table.Protocol, l.hub.Online(), l.cfg.MOTD)
			if err != nil {
				return err
			}
			if err := conn.Write(protocol.NameStatusResponse, protocol.StatusResponse{JSON: body}); err != nil {
				return err
			}
		case protocol.KeepAlive:
			if err := conn.Write(protocol.NameStatusPing, p); err != nil {
				return err
			}
			return nil
		default:
			return fmt.Errorf("unexpected status packet %s", pkt.Meta)
		}
	}
}

// login performs an offline-mode login and waits for the client to
// acknowledge it.
func (l *Listener) login(conn *Conn) error {
	pkt, err := conn.ReadPacket()
	if err != nil {
		return fmt.Errorf("failed to read login start: %w", err)
	}
	start, ok := pkt.Payload.(protocol.LoginStart)
	if !ok {
		return fmt.Errorf("expected login start, got %s", pkt.Meta)
	}
	conn.SetIdentity(start.Name, protocol.OfflineUUID(start.Name))

	if th := l.cfg.CompressionThreshold; th >= 0 {
		if err := conn.Write(protocol.NameSetCompression, protocol.SetCompression{Threshold: int32(th)}); err != nil {
			return err
		}
		conn.SetCompressionThreshold(th)
	}
	if err := conn.Write(protocol.NameLoginSuccess, protocol.LoginSuccess{UUID: conn.UUID(), Name: conn.Username()}); err != nil {
		return err
	}

	for {
		pkt, err := conn.ReadPacket()
		if err != nil {
			return fmt.Errorf("failed to wait for login acknowledgement: %w", err)
		}
		if pkt.Meta.Name == protocol.NameLoginAcknowledged {
			break
		}
		l.logger.Debug().Str("packet", pkt.Meta.Name).Msg("ignoring packet before login acknowledgement")
	}
	conn.SetPhase(protocol.PhaseConfiguration)
	return nil
}

func (l *Listener) readLoop(conn *Conn) {
	id := conn.ID()
	for {
		pkt, err := conn.ReadPacket()
		if err != nil {
			if !conn.Ended() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				l.hub.Post(hub.DownstreamError{ConnID: id, Err: err})
			}
			break
		}
		if !l.hub.Post(hub.DownstreamPacket{ConnID: id, Meta: pkt.Meta, Raw: pkt.Raw, Payload: pkt.Payload}) {
			break
		}
	}
	l.logger.Debug().
		Str("username", conn.Username()).
		Dur("duration", time.Since(conn.ConnectedAt())).
		Msg("downstream read loop ended")
	l.hub.Post(hub.DownstreamEnd{ConnID: id})
}

// Close stops accepting and drops connections that have not logged in.
// Logged-in sessions are ended by the hub.
func (l *Listener) Close() error {
	if l.stopped.Swap(true) {
		return nil
	}
	var err error
	if l.ln != nil {
		err = l.ln.Close()
	}
	l.pending.CloseAll()
	return err
}
