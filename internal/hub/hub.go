// Package hub is the relay engine: one upstream connection multiplexed to
// a controller session and any number of observer sessions.
//
// Network goroutines Post events; Run handles them one at a time, so all
// hub state (session registry, buffers, flags) is only touched from the
// loop and needs no locks.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/moeru-ai/airi-sub003/internal/config"
	"github.com/moeru-ai/airi-sub003/internal/events"
	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

// Close reasons sent to downstreams.
const (
	ReasonTargetEnd    = "target_end"
	ReasonHubShutdown  = "hub_shutdown"
	ReasonObserverAuth = "observer_identity_mismatch"
	ReasonControlAuth  = "controller_identity_mismatch"
)

// Dump directions.
const (
	DirTargetToHub     = "target→hub"
	DirDownstreamToHub = "downstream→hub"
	dirHubToDownstream = "hub→downstream:"
)

const eventQueueSize = 1024

// ErrUpstreamEnded is delivered on Fatal when the upstream connection ends.
var ErrUpstreamEnded = errors.New("upstream connection ended")

// Dumper records every packet crossing a hub boundary.
type Dumper interface {
	Record(direction string, phase protocol.Phase, name string, raw []byte)
	Close() error
}

// TargetIdentity is the hub's own identity as the upstream server sees it.
type TargetIdentity struct {
	Username string
	UUID     uuid.UUID
}

// Hub owns every registry, buffer and flag of the relay.
type Hub struct {
	cfg    *config.Config
	bus    *events.EventBus
	dump   Dumper
	table  *protocol.Table
	logger zerolog.Logger

	events    chan Event
	done      chan struct{}
	loopDone  chan struct{}
	fatal     chan error
	running   atomic.Bool
	closeOnce sync.Once
	online    atomic.Int32
	startedAt time.Time

	closersMu sync.Mutex
	closers   []namedCloser

	// loop-owned state
	upstream              Conn
	sessions              sessionRegistry
	configPackets         configBuffer
	playQueue             playQueue
	configurationComplete bool
	initialDispatchDone   bool
	compressionThreshold  int
	target                TargetIdentity
	entityID              int32
	entityKnown           bool
	teleportID            int32
	dispatchedAt          time.Time
	upstreamEnded         bool
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// New creates a hub for cfg. bus and dump may be nil.
func New(cfg *config.Config, bus *events.EventBus, dump Dumper) *Hub {
	logger := log.With().Str("component", "hub").Logger()
	table, err := protocol.LookupTable(cfg.Version)
	if err != nil {
		logger.Warn().Err(err).Msg("no packet table, live packets are recorded without ids")
	}
	return &Hub{
		cfg:                  cfg,
		bus:                  bus,
		dump:                 dump,
		table:                table,
		logger:               logger,
		events:               make(chan Event, eventQueueSize),
		done:                 make(chan struct{}),
		loopDone:             make(chan struct{}),
		fatal:                make(chan error, 1),
		startedAt:            time.Now(),
		compressionThreshold: protocol.DisabledThreshold,
		target:               TargetIdentity{Username: cfg.Upstream.Username},
	}
}

// AttachListener registers a listener to be closed first on shutdown.
func (h *Hub) AttachListener(name string, c io.Closer) {
	h.closersMu.Lock()
	defer h.closersMu.Unlock()
	h.closers = append(h.closers, namedCloser{name: name, closer: c})
}

// Post queues an event for the loop. It returns false once the hub is
// closed.
func (h *Hub) Post(ev Event) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

// Fatal yields an error when the hub can no longer relay anything.
func (h *Hub) Fatal() <-chan error {
	return h.fatal
}

// Online returns the number of registered sessions.
func (h *Hub) Online() int {
	return int(h.online.Load())
}

// Run handles events until ctx is cancelled or the hub is closed.
func (h *Hub) Run(ctx context.Context) error {
	if h.running.Swap(true) {
		return fmt.Errorf("hub is already running")
	}
	defer close(h.loopDone)

	h.logger.Info().Msg("hub loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.done:
			return nil
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

func (h *Hub) handle(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Interface("panic", r).
				Str("event", fmt.Sprintf("%T", ev)).
				Msg("event handler panicked")
		}
	}()

	switch e := ev.(type) {
	case UpstreamConnected:
		h.onUpstreamConnected(e)
	case UpstreamPacket:
		h.onUpstreamPacket(e)
	case UpstreamEnd:
		h.onUpstreamEnd(e)
	case UpstreamError:
		h.logger.Error().Err(e.Err).Msg("upstream error")
	case DownstreamLogin:
		h.onDownstreamLogin(e)
	case DownstreamPacket:
		h.onDownstreamPacket(e)
	case DownstreamEnd:
		h.onDownstreamEnd(e)
	case DownstreamError:
		h.logger.Error().Err(e.Err).Uint64("conn_id", e.ConnID).Msg("downstream error")
	case ListenerError:
		h.logger.Error().Err(e.Err).Str("role", string(e.Role)).Msg("listener error")
	case statusQuery:
		e.reply <- h.snapshot()
	default:
		h.logger.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("unhandled hub event")
	}
}

// Close tears the hub down: it stops the loop, closes the listeners, ends
// every session and the upstream connection, then closes the dump sink.
// Every step is guarded; Close is safe to call more than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		if h.running.Load() {
			<-h.loopDone
		}

		h.closersMu.Lock()
		closers := h.closers
		h.closers = nil
		h.closersMu.Unlock()
		for _, c := range closers {
			h.guard("close "+c.name, c.closer.Close)
		}

		for _, s := range h.sessions.clear() {
			if !s.Downstream.Ended() {
				h.guard("end "+string(s.Role)+" session", func() error {
					return s.Downstream.End(ReasonHubShutdown)
				})
			}
		}
		h.online.Store(0)

		if h.upstream != nil && !h.upstream.Ended() {
			h.guard("end upstream", func() error {
				return h.upstream.End(ReasonHubShutdown)
			})
		}

		if h.dump != nil {
			h.guard("close packet dump", h.dump.Close)
		}

		h.publish(events.EventShutdown, events.ShutdownPayload{Reason: ReasonHubShutdown})
		h.logger.Info().Msg("hub stopped")
	})
}

// guard runs one shutdown step, logging errors and panics.
func (h *Hub) guard(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Str("step", step).Msg("shutdown step panicked")
		}
	}()
	if err := fn(); err != nil {
		h.logger.Warn().Err(err).Str("step", step).Msg("shutdown step failed")
	}
}

func (h *Hub) publish(t events.EventType, payload interface{}) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(context.Background(), t, "hub", payload)
}

func (h *Hub) record(direction string, phase protocol.Phase, name string, raw []byte) {
	if h.cfg.DebugPackets {
		h.logger.Debug().
			Str("direction", direction).
			Str("state", string(phase)).
			Str("name", name).
			Int("size", len(raw)).
			Msg("packet")
	}
	if h.dump != nil {
		h.dump.Record(direction, phase, name, raw)
	}
}

// recordWrite records a decoded play packet written to a downstream. The
// payload is re-encoded only when something consumes the bytes.
func (h *Hub) recordWrite(role Role, name string, payload protocol.Payload) {
	if h.dump == nil && !h.cfg.DebugPackets {
		return
	}
	h.record(dirHubToDownstream+string(role), protocol.PhasePlay, name, h.encodeRaw(name, payload))
}

// encodeRaw renders a clientbound play packet as id plus body.
func (h *Hub) encodeRaw(name string, payload protocol.Payload) []byte {
	body, err := protocol.Encode(protocol.PhasePlay, protocol.Clientbound, payload)
	if err != nil {
		h.logger.Debug().Err(err).Str("packet", name).Msg("cannot encode packet for the dump")
		return nil
	}
	if h.table == nil {
		return body
	}
	id, err := h.table.ID(protocol.PhasePlay, protocol.Clientbound, name)
	if err != nil {
		return body
	}
	return protocol.JoinRaw(id, body)
}
