package hub

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/moeru-ai/airi-sub003/internal/config"
	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

var connIDs atomic.Uint64

type written struct {
	name    string
	payload protocol.Payload
	raw     []byte
	phase   protocol.Phase
}

type fakeConn struct {
	id        uint64
	username  string
	uuid      uuid.UUID
	phase     protocol.Phase
	threshold int
	writes    []written
	ended     bool
	reason    string
	failWrite bool
	endErr    error
	endPanic  bool
}

func newFakeConn(username string) *fakeConn {
	return &fakeConn{
		id:        connIDs.Add(1),
		username:  username,
		uuid:      protocol.OfflineUUID(username),
		phase:     protocol.PhaseLogin,
		threshold: protocol.DisabledThreshold,
	}
}

func (c *fakeConn) ID() uint64                     { return c.id }
func (c *fakeConn) Username() string               { return c.username }
func (c *fakeConn) UUID() uuid.UUID                { return c.uuid }
func (c *fakeConn) Phase() protocol.Phase          { return c.phase }
func (c *fakeConn) SetPhase(p protocol.Phase)      { c.phase = p }
func (c *fakeConn) SetCompressionThreshold(th int) { c.threshold = th }
func (c *fakeConn) Ended() bool                    { return c.ended }

func (c *fakeConn) Write(name string, payload protocol.Payload) error {
	if c.ended || c.failWrite {
		return errors.New("write on closed connection")
	}
	c.writes = append(c.writes, written{name: name, payload: payload, phase: c.phase})
	return nil
}

func (c *fakeConn) WriteRaw(raw []byte) error {
	if c.ended || c.failWrite {
		return errors.New("write on closed connection")
	}
	c.writes = append(c.writes, written{raw: raw, phase: c.phase})
	return nil
}

func (c *fakeConn) End(reason string) error {
	if c.ended {
		return errors.New("already ended")
	}
	if c.endPanic {
		panic("socket already torn down")
	}
	c.ended = true
	c.reason = reason
	return c.endErr
}

func (c *fakeConn) raws() [][]byte {
	var out [][]byte
	for _, w := range c.writes {
		if w.raw != nil {
			out = append(out, w.raw)
		}
	}
	return out
}

func (c *fakeConn) named(name string) []written {
	var out []written
	for _, w := range c.writes {
		if w.raw == nil && w.name == name {
			out = append(out, w)
		}
	}
	return out
}

type fakeDump struct {
	records []string
	raws    map[string][]byte
	closed  bool
}

func (d *fakeDump) Record(direction string, phase protocol.Phase, name string, raw []byte) {
	key := direction + " " + string(phase) + " " + name
	d.records = append(d.records, key)
	if d.raws == nil {
		d.raws = make(map[string][]byte)
	}
	d.raws[key] = raw
}

func (d *fakeDump) Close() error {
	d.closed = true
	return nil
}

type fakeCloser struct{ closed bool }

func (c *fakeCloser) Close() error {
	c.closed = true
	return nil
}

type fixture struct {
	t          *testing.T
	cfg        *config.Config
	hub        *Hub
	upstream   *fakeConn
	observer   *fakeConn
	controller *fakeConn
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	f := &fixture{t: t, cfg: cfg, hub: New(cfg, nil, nil)}
	f.upstream = newFakeConn(cfg.Upstream.Username)
	f.upstream.phase = protocol.PhaseConfiguration
	f.hub.handle(UpstreamConnected{Conn: f.upstream})
	return f
}

func (f *fixture) loginObserver() *fakeConn {
	c := newFakeConn(f.cfg.ObserverUsername())
	f.hub.handle(DownstreamLogin{Role: RoleObserver, Conn: c})
	return c
}

func (f *fixture) loginController() *fakeConn {
	c := newFakeConn(f.cfg.Controller.Username)
	f.hub.handle(DownstreamLogin{Role: RoleController, Conn: c})
	return c
}

func (f *fixture) upstreamConfig(name string, raw []byte) {
	f.hub.handle(UpstreamPacket{
		Meta:    protocol.Meta{Name: name, Phase: protocol.PhaseConfiguration, Direction: protocol.Clientbound},
		Raw:     raw,
		Payload: protocol.Unrecognized{Body: raw[1:]},
	})
}

func (f *fixture) finishConfiguration() {
	f.hub.handle(UpstreamPacket{
		Meta:    protocol.Meta{Name: protocol.NameFinishConfiguration, Phase: protocol.PhaseConfiguration, Direction: protocol.Clientbound},
		Raw:     []byte{0x02},
		Payload: protocol.Empty{},
	})
	f.upstream.phase = protocol.PhasePlay
}

func (f *fixture) upstreamPlay(name string, payload protocol.Payload) {
	f.hub.handle(UpstreamPacket{
		Meta:    protocol.Meta{Name: name, Phase: protocol.PhasePlay, Direction: protocol.Clientbound},
		Raw:     []byte{0x7f},
		Payload: payload,
	})
}

func (f *fixture) controllerPlay(c *fakeConn, name string, payload protocol.Payload, raw []byte) {
	f.hub.handle(DownstreamPacket{
		ConnID:  c.ID(),
		Meta:    protocol.Meta{Name: name, Phase: protocol.PhasePlay, Direction: protocol.Serverbound},
		Raw:     raw,
		Payload: payload,
	})
}

var configRaws = [][]byte{
	{0x05, 0xaa},
	{0x08, 0xbb},
	{0x09, 0xcc},
}

func (f *fixture) dispatched() {
	f.t.Helper()
	f.observer = f.loginObserver()
	f.controller = f.loginController()
	for _, raw := range configRaws {
		f.upstreamConfig("registry_data", raw)
	}
	f.finishConfiguration()
	if !f.hub.initialDispatchDone {
		f.t.Fatal("dispatch did not happen")
	}
}

func TestColdStartDispatch(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatched()

	for _, c := range []*fakeConn{f.observer, f.controller} {
		raws := c.raws()
		if len(raws) != len(configRaws)+1 {
			t.Fatalf("%s got %d raw packets, want %d", c.username, len(raws), len(configRaws)+1)
		}
		for i, want := range configRaws {
			if !bytes.Equal(raws[i], want) {
				t.Errorf("%s packet %d = %x, want %x", c.username, i, raws[i], want)
			}
		}
		for _, w := range c.writes {
			if w.phase != protocol.PhaseConfiguration {
				t.Errorf("%s replay written in phase %s", c.username, w.phase)
			}
		}
		if c.phase != protocol.PhasePlay {
			t.Errorf("%s phase = %s, want play", c.username, c.phase)
		}
	}
	for _, s := range f.hub.sessions.all() {
		if !s.ReadyForPlay {
			t.Errorf("%s not ready", s.Username)
		}
	}
}

func TestDispatchWaitsForBothRoles(t *testing.T) {
	f := newFixture(t, nil)
	observer := f.loginObserver()
	f.upstreamConfig("registry_data", configRaws[0])
	f.finishConfiguration()

	if f.hub.initialDispatchDone {
		t.Fatal("dispatched without a controller")
	}
	if len(observer.writes) != 0 {
		t.Fatalf("observer received %d packets before dispatch", len(observer.writes))
	}

	// Play packets arriving now are queued until the controller joins.
	f.upstreamPlay(protocol.NameKeepAlive, protocol.KeepAlive{ID: 1})
	f.upstreamPlay(protocol.NameKeepAlive, protocol.KeepAlive{ID: 2})
	if f.hub.playQueue.len() != 2 {
		t.Fatalf("queue = %d, want 2", f.hub.playQueue.len())
	}

	controller := f.loginController()
	if !f.hub.initialDispatchDone {
		t.Fatal("controller login did not trigger dispatch")
	}
	for _, c := range []*fakeConn{observer, controller} {
		alive := c.named(protocol.NameKeepAlive)
		if len(alive) != 2 {
			t.Fatalf("%s got %d queued packets, want 2", c.username, len(alive))
		}
		if alive[0].payload.(protocol.KeepAlive).ID != 1 || alive[1].payload.(protocol.KeepAlive).ID != 2 {
			t.Errorf("%s queue delivered out of order", c.username)
		}
		// replay precedes the first play packet
		if c.writes[0].raw == nil {
			t.Errorf("%s first write was not a replayed configuration packet", c.username)
		}
	}
	if f.hub.playQueue.len() != 0 {
		t.Error("queue not emptied")
	}
}

func TestDispatchIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatched()
	before := len(f.observer.writes)

	for i := 0; i < 5; i++ {
		if f.hub.tryDispatch("test") {
			t.Fatal("dispatch ran twice")
		}
	}
	f.finishConfiguration()
	f.loginController()

	if len(f.observer.writes) != before {
		t.Errorf("observer received %d extra packets", len(f.observer.writes)-before)
	}
	if f.hub.playQueue.push(QueuedPacket{Name: "x"}) || f.hub.playQueue.len() != 0 {
		t.Error("queue accepted packets after dispatch")
	}
}

func TestLateJoinerGetsFullReplay(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatched()

	late := f.loginObserver()
	raws := late.raws()
	if len(raws) != len(configRaws)+1 {
		t.Fatalf("late joiner got %d raw packets", len(raws))
	}
	s := f.hub.sessions.get(late.ID())
	if s == nil || !s.ReadyForPlay {
		t.Fatal("late joiner not ready after replay")
	}

	f.upstreamPlay("map_chunk", protocol.Unrecognized{Body: []byte{1}})
	last := late.writes[len(late.writes)-1]
	if last.name != "map_chunk" {
		t.Errorf("late joiner last packet = %q", last.name)
	}
	if late.phase != protocol.PhasePlay {
		t.Errorf("late joiner phase = %s", late.phase)
	}
}

func TestForwardWriteFailureIsIsolated(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatched()
	f.controller.failWrite = true

	f.upstreamPlay("map_chunk", protocol.Unrecognized{Body: []byte{1}})
	if len(f.observer.named("map_chunk")) != 1 {
		t.Error("observer missed a live packet after a failed write to the controller")
	}
	if f.controller.ended {
		t.Error("a write failure ended the session")
	}
}

func TestMirrorWriteFailureIsIsolated(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.MirrorMovement = true })
	f.dispatched()
	second := f.loginObserver()
	f.observer.failWrite = true

	move := protocol.Movement{X: 1, Y: 70, Z: 1, HasPosition: true}
	f.controllerPlay(f.controller, protocol.NamePosition, move, []byte{0x17})

	if got := second.named(protocol.NamePosition); len(got) != 1 {
		t.Errorf("second observer got %d positions, want 1", len(got))
	}
	if f.observer.ended || second.ended {
		t.Error("a failed mirror write ended an observer session")
	}
	if f.hub.sessions.len() != 3 {
		t.Errorf("sessions = %d, want 3", f.hub.sessions.len())
	}
}

func TestObserverNeverReachesUpstream(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.MirrorMovement = true
		c.MirrorActions = true
	})
	f.dispatched()

	for _, name := range []string{protocol.NamePosition, protocol.NameArmAnimation, "chat_message", protocol.NameKeepAlive} {
		f.controllerPlay(f.observer, name, protocol.Unrecognized{Body: []byte{0}}, []byte{0x17, 0})
	}
	if len(f.upstream.writes) != 0 {
		t.Fatalf("observer packets reached upstream: %d writes", len(f.upstream.writes))
	}
	if len(f.controller.writes) != len(configRaws)+1 {
		t.Error("observer packets were mirrored to the controller")
	}
}

func TestControllerRelay(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatched()

	raw := []byte{0x05, 'h', 'i'}
	f.controllerPlay(f.controller, "chat_message", protocol.Unrecognized{Body: raw[1:]}, raw)
	if len(f.upstream.writes) != 1 || !bytes.Equal(f.upstream.writes[0].raw, raw) {
		t.Fatalf("upstream writes = %+v, want one raw pass-through", f.upstream.writes)
	}

	f.controllerPlay(f.controller, protocol.NameKeepAlive, protocol.KeepAlive{ID: 9}, []byte{0x15})
	f.controllerPlay(f.controller, protocol.NamePong, protocol.Ping{ID: 9}, []byte{0x24})
	if len(f.upstream.writes) != 1 {
		t.Error("controller liveness replies were relayed upstream")
	}

	// configuration-phase controller traffic is never relayed
	f.hub.handle(DownstreamPacket{
		ConnID: f.controller.ID(),
		Meta:   protocol.Meta{Name: "settings", Phase: protocol.PhaseConfiguration},
		Raw:    []byte{0x00},
	})
	if len(f.upstream.writes) != 1 {
		t.Error("configuration-phase packet relayed upstream")
	}
}

func TestControllerRelayDecodedWhenRewriting(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.RewriteIdentity = true })
	f.dispatched()

	move := protocol.Movement{X: 1, Y: 2, Z: 3, HasPosition: true}
	f.controllerPlay(f.controller, protocol.NamePosition, move, []byte{0x17})
	if len(f.upstream.writes) != 1 {
		t.Fatalf("upstream writes = %d", len(f.upstream.writes))
	}
	w := f.upstream.writes[0]
	if w.raw != nil || w.name != protocol.NamePosition || w.payload != move {
		t.Errorf("upstream write = %+v, want decoded position", w)
	}
}

func TestMovementMirror(t *testing.T) {
	move := protocol.Movement{X: 10, Y: 64, Z: -5, OnGround: true, HasPosition: true}

	for _, enabled := range []bool{true, false} {
		f := newFixture(t, func(c *config.Config) { c.MirrorMovement = enabled })
		f.dispatched()

		f.controllerPlay(f.controller, protocol.NamePosition, move, []byte{0x17})
		if len(f.upstream.writes) != 1 {
			t.Errorf("mirror=%v: upstream writes = %d, want 1", enabled, len(f.upstream.writes))
		}
		got := f.observer.named(protocol.NamePosition)
		if !enabled {
			if len(got) != 0 {
				t.Errorf("mirror disabled but observer got %d positions", len(got))
			}
			continue
		}
		if len(got) != 1 {
			t.Fatalf("observer got %d positions, want 1", len(got))
		}
		pos := got[0].payload.(protocol.PlayerPosition)
		if pos.X != 10 || pos.Y != 64 || pos.Z != -5 {
			t.Errorf("mirrored position = %+v", pos)
		}
		if pos.Flags != protocol.RelativeYaw|protocol.RelativePitch {
			t.Errorf("flags = %#x, want rotation relative", pos.Flags)
		}
		if len(f.controller.named(protocol.NamePosition)) != 0 {
			t.Error("controller received its own mirror")
		}
	}
}

func TestMirrorWhitelist(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.MirrorMovement = true
		c.MirrorActions = true
	})
	f.dispatched()
	before := len(f.observer.writes)

	f.controllerPlay(f.controller, "chat_message", protocol.Unrecognized{Body: []byte{1}}, []byte{0x05, 1})
	f.controllerPlay(f.controller, "teleport_confirm", protocol.Unrecognized{Body: []byte{1}}, []byte{0x00, 1})
	if len(f.observer.writes) != before {
		t.Error("non-whitelisted packet mirrored")
	}

	for _, c := range []struct {
		name             string
		movement, action bool
		want             bool
	}{
		{protocol.NamePosition, true, false, true},
		{protocol.NamePosition, false, true, false},
		{protocol.NameVehicleMove, true, false, true},
		{protocol.NameHeldItemSlot, false, true, true},
		{protocol.NameHeldItemSlot, true, false, false},
		{protocol.NameBlockDig, false, true, true},
		{"chat_message", true, true, false},
	} {
		if got := mirrorEligible(c.name, c.movement, c.action); got != c.want {
			t.Errorf("mirrorEligible(%s, %v, %v) = %v", c.name, c.movement, c.action, got)
		}
	}
}

func TestActionMirror(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.MirrorActions = true })
	f.dispatched()

	// no entity id yet: arm swing has no observer form
	f.controllerPlay(f.controller, protocol.NameArmAnimation, protocol.ArmSwing{Hand: 0}, []byte{0x33, 0})
	if len(f.observer.named(protocol.NameAnimation)) != 0 {
		t.Fatal("animation mirrored before the entity id was known")
	}

	f.upstreamPlay(protocol.NameJoinGame, protocol.JoinGame{EntityID: 77})
	f.controllerPlay(f.controller, protocol.NameArmAnimation, protocol.ArmSwing{Hand: 1}, []byte{0x33, 1})
	anims := f.observer.named(protocol.NameAnimation)
	if len(anims) != 1 {
		t.Fatalf("observer got %d animations", len(anims))
	}
	if a := anims[0].payload.(protocol.EntityAnimation); a.EntityID != 77 || a.Animation != protocol.AnimationSwingOffhand {
		t.Errorf("animation = %+v", a)
	}

	f.controllerPlay(f.controller, protocol.NameHeldItemSlot, protocol.HeldItem{Slot: 3}, []byte{0x2c, 0, 3})
	if held := f.observer.named(protocol.NameHeldItemSlot); len(held) != 1 || held[0].payload.(protocol.HeldItem).Slot != 3 {
		t.Errorf("held item mirror = %+v", held)
	}

	// actions without an observer form are skipped
	for _, name := range []string{
		protocol.NameBlockDig,
		protocol.NameBlockPlace,
		protocol.NameUseItem,
		protocol.NameUseEntity,
		protocol.NameEntityAction,
	} {
		observed, relayed := len(f.observer.writes), len(f.upstream.writes)
		f.controllerPlay(f.controller, name, protocol.Unrecognized{Body: []byte{0}}, []byte{0x21, 0})
		if len(f.observer.writes) != observed {
			t.Errorf("%s was written to observers", name)
		}
		if len(f.upstream.writes) != relayed+1 {
			t.Errorf("%s was not relayed upstream", name)
		}
	}
}

func TestMirrorSetsUseKnownPacketNames(t *testing.T) {
	table, err := protocol.LookupTable(config.DefaultVersion)
	if err != nil {
		t.Fatal(err)
	}
	for _, set := range []map[string]bool{movementPackets, actionPackets} {
		for name := range set {
			if _, err := table.ID(protocol.PhasePlay, protocol.Serverbound, name); err != nil {
				t.Errorf("mirror set entry %q: %v", name, err)
			}
		}
	}
}

func TestUpstreamEndClosesEverySession(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatched()

	f.hub.handle(UpstreamEnd{})
	for _, c := range []*fakeConn{f.observer, f.controller} {
		if !c.ended || c.reason != ReasonTargetEnd {
			t.Errorf("%s ended=%v reason=%q, want %q", c.username, c.ended, c.reason, ReasonTargetEnd)
		}
	}

	observerWrites := len(f.observer.writes)
	f.upstreamPlay("map_chunk", protocol.Unrecognized{Body: []byte{1}})
	f.hub.handle(DownstreamEnd{ConnID: f.observer.ID()})
	if len(f.observer.writes) != observerWrites {
		t.Error("write attempted after upstream end")
	}

	select {
	case err := <-f.hub.Fatal():
		if !errors.Is(err, ErrUpstreamEnded) {
			t.Errorf("fatal error = %v", err)
		}
	default:
		t.Error("no fatal error after upstream end")
	}

	late := newFakeConn(f.cfg.ObserverUsername())
	f.hub.handle(DownstreamLogin{Role: RoleObserver, Conn: late})
	if !late.ended || f.hub.sessions.len() != 0 {
		t.Error("login accepted after upstream end")
	}
}

func TestLoginRejection(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Observer.Username = "watcher" })

	impostor := newFakeConn("airi-bot")
	f.hub.handle(DownstreamLogin{Role: RoleObserver, Conn: impostor})
	if !impostor.ended || impostor.reason != ReasonObserverAuth {
		t.Errorf("observer impostor: ended=%v reason=%q", impostor.ended, impostor.reason)
	}

	wrongBot := newFakeConn("someone-else")
	f.hub.handle(DownstreamLogin{Role: RoleController, Conn: wrongBot})
	if !wrongBot.ended || wrongBot.reason != ReasonControlAuth {
		t.Errorf("controller impostor: ended=%v reason=%q", wrongBot.ended, wrongBot.reason)
	}
	if f.hub.sessions.len() != 0 {
		t.Errorf("rejected logins registered %d sessions", f.hub.sessions.len())
	}

	ok := newFakeConn("watcher")
	f.hub.handle(DownstreamLogin{Role: RoleObserver, Conn: ok})
	if ok.ended || f.hub.sessions.len() != 1 {
		t.Error("matching observer was rejected")
	}
	if ok.phase != protocol.PhaseConfiguration {
		t.Errorf("new session phase = %s, want configuration", ok.phase)
	}
}

func TestDownstreamEndRemovesSession(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatched()

	f.hub.handle(DownstreamEnd{ConnID: f.controller.ID()})
	if f.hub.sessions.get(f.controller.ID()) != nil {
		t.Fatal("session still registered")
	}
	if f.controller.reason != "controller_end" {
		t.Errorf("reason = %q", f.controller.reason)
	}
	if f.hub.Online() != 1 {
		t.Errorf("online = %d", f.hub.Online())
	}

	// Unknown ids are ignored.
	f.hub.handle(DownstreamEnd{ConnID: 999999})
}

func TestCapturedCompressionThresholdIsReplayed(t *testing.T) {
	f := newFixture(t, nil)
	f.hub.handle(UpstreamPacket{
		Meta:    protocol.Meta{Name: protocol.NameSetCompression, Phase: protocol.PhaseConfiguration},
		Raw:     []byte{0x03, 0x40},
		Payload: protocol.SetCompression{Threshold: 64},
	})
	f.dispatched()

	if f.observer.threshold != 64 || f.controller.threshold != 64 {
		t.Errorf("thresholds = %d/%d, want 64", f.observer.threshold, f.controller.threshold)
	}
	if f.hub.configPackets.packets[0].CompressionThreshold != 64 {
		t.Errorf("captured threshold = %d", f.hub.configPackets.packets[0].CompressionThreshold)
	}
}

func TestForwardRewritesIdentity(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.RewriteIdentity = true })
	f.dispatched()

	bot := protocol.OfflineUUID(f.cfg.Upstream.Username)
	update := protocol.RosterUpdate{
		Actions: protocol.RosterAddPlayer,
		Entries: []protocol.RosterEntry{{UUID: bot, Name: f.cfg.Upstream.Username, Tail: []byte{0}}},
	}
	f.upstreamPlay(protocol.NamePlayerInfo, update)

	if f.hub.target.UUID != bot {
		t.Fatalf("target uuid = %s, want %s", f.hub.target.UUID, bot)
	}

	got := f.controller.named(protocol.NamePlayerInfo)
	if len(got) != 1 {
		t.Fatalf("controller got %d player_info", len(got))
	}
	entry := got[0].payload.(protocol.RosterUpdate).Entries[0]
	if entry.UUID != f.controller.uuid || entry.Name != f.controller.username {
		t.Errorf("controller entry = %+v", entry)
	}

	// the observer shares the upstream name, so it sees the packet unchanged
	seen := f.observer.named(protocol.NamePlayerInfo)[0].payload.(protocol.RosterUpdate).Entries[0]
	if seen.UUID != bot || seen.Name != f.cfg.Upstream.Username {
		t.Errorf("observer entry = %+v", seen)
	}
}

func TestCloseTearsDownEverything(t *testing.T) {
	dump := &fakeDump{}
	cfg := config.DefaultConfig()
	h := New(cfg, nil, dump)
	listener := &fakeCloser{}
	h.AttachListener("observer listener", listener)

	upstream := newFakeConn(cfg.Upstream.Username)
	h.handle(UpstreamConnected{Conn: upstream})
	panicking := newFakeConn(cfg.ObserverUsername())
	panicking.endPanic = true
	h.handle(DownstreamLogin{Role: RoleObserver, Conn: panicking})
	controller := newFakeConn(cfg.Controller.Username)
	controller.endErr = errors.New("broken pipe")
	h.handle(DownstreamLogin{Role: RoleController, Conn: controller})
	observer := newFakeConn(cfg.ObserverUsername())
	h.handle(DownstreamLogin{Role: RoleObserver, Conn: observer})

	h.Close()
	h.Close()

	if !listener.closed {
		t.Error("listener not closed")
	}
	if controller.reason != ReasonHubShutdown {
		t.Errorf("controller reason = %q", controller.reason)
	}
	if observer.reason != ReasonHubShutdown {
		t.Errorf("observer reason = %q", observer.reason)
	}
	if upstream.reason != ReasonHubShutdown {
		t.Errorf("upstream reason = %q", upstream.reason)
	}
	if !dump.closed {
		t.Error("dump not closed")
	}
	if h.sessions.len() != 0 {
		t.Errorf("sessions = %d after Close", h.sessions.len())
	}
	if h.Post(DownstreamEnd{}) {
		t.Error("Post accepted an event after Close")
	}
}

func TestDumpRecordsDirections(t *testing.T) {
	dump := &fakeDump{}
	cfg := config.DefaultConfig()
	cfg.MirrorMovement = true
	h := New(cfg, nil, dump)
	f := &fixture{t: t, cfg: cfg, hub: h, upstream: newFakeConn(cfg.Upstream.Username)}
	h.handle(UpstreamConnected{Conn: f.upstream})
	f.dispatched()
	f.controllerPlay(f.controller, "chat_message", protocol.Unrecognized{}, []byte{0x05})
	f.upstreamPlay("map_chunk", protocol.Unrecognized{Body: []byte{0xee}})
	f.controllerPlay(f.controller, protocol.NamePosition, protocol.Movement{HasPosition: true}, []byte{0x17})

	want := map[string]bool{
		"target→hub configuration registry_data":              false,
		"hub→downstream:observer configuration registry_data": false,
		"downstream→hub play chat_message":                    false,
		"hub→downstream:observer play map_chunk":              false,
		"hub→downstream:controller play map_chunk":            false,
		"hub→downstream:observer play position":               false,
	}
	for _, r := range dump.records {
		if _, ok := want[r]; ok {
			want[r] = true
		}
	}
	for r, seen := range want {
		if !seen {
			t.Errorf("missing dump record %q", r)
		}
	}

	table, err := protocol.LookupTable(cfg.Version)
	if err != nil {
		t.Fatal(err)
	}
	id, err := table.ID(protocol.PhasePlay, protocol.Clientbound, "map_chunk")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := dump.raws["hub→downstream:observer play map_chunk"], protocol.JoinRaw(id, []byte{0xee}); !bytes.Equal(got, want) {
		t.Errorf("live packet bytes = %x, want %x", got, want)
	}
}

func TestStatusSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatched()
	f.upstreamPlay(protocol.NameJoinGame, protocol.JoinGame{EntityID: 5})

	st := f.hub.snapshot()
	if !st.ConfigurationComplete || !st.InitialDispatchDone || st.DispatchedAt == nil {
		t.Errorf("flags = %+v", st)
	}
	if st.ConfigPackets != len(configRaws)+1 || st.QueuedPackets != 0 {
		t.Errorf("buffers = %d/%d", st.ConfigPackets, st.QueuedPackets)
	}
	if len(st.Sessions) != 2 || st.Sessions[0].Role != RoleObserver {
		t.Errorf("sessions = %+v", st.Sessions)
	}
	if st.ControlledEntityID == nil || *st.ControlledEntityID != 5 {
		t.Errorf("entity id = %v", st.ControlledEntityID)
	}
	if st.UpstreamPhase != string(protocol.PhasePlay) {
		t.Errorf("upstream phase = %q", st.UpstreamPhase)
	}
}
