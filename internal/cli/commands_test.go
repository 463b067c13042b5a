package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moeru-ai/airi-sub003/internal/db"
	"github.com/moeru-ai/airi-sub003/internal/events"
	"github.com/moeru-ai/airi-sub003/internal/hub"
)

type fakeStatus struct{ st hub.Status }

func (f fakeStatus) Status(context.Context) (hub.Status, error) { return f.st, nil }

type fakeHistory struct{ limit int }

func (f *fakeHistory) Recent(limit int) ([]db.SessionEvent, error) {
	f.limit = limit
	return []db.SessionEvent{
		{Event: "session_joined", Role: "observer", Username: "viewer", CreatedAt: time.Now()},
	}, nil
}

func run(t *testing.T, c *CLI) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop")
	}
}

func TestConsoleCommands(t *testing.T) {
	entity := int32(42)
	st := fakeStatus{st: hub.Status{
		StartedAt:          time.Now(),
		UpstreamConnected:  true,
		UpstreamPhase:      "play",
		TargetUsername:     "bot",
		ControlledEntityID: &entity,
		Sessions: []hub.SessionInfo{
			{ConnID: 7, Role: hub.RoleObserver, Username: "viewer", ReadyForPlay: true, JoinedAt: time.Now()},
		},
	}}
	history := &fakeHistory{}
	in := strings.NewReader("help\nstatus\n\nsessions\nhistory 5\nhistory x\nfrobnicate\n")
	var out bytes.Buffer

	run(t, NewCLI(nil, st, history, in, &out))

	got := out.String()
	for _, want := range []string{
		"mchub Console Commands",
		"connected (play)",
		"Entity ID:      42",
		"viewer",
		"session_joined",
		"Error: invalid count: x",
		"Unknown command: 'frobnicate'",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if history.limit != 5 {
		t.Errorf("history limit = %d", history.limit)
	}
}

func TestConsoleHistoryDisabled(t *testing.T) {
	var out bytes.Buffer
	run(t, NewCLI(nil, fakeStatus{}, nil, strings.NewReader("history\n"), &out))
	if !strings.Contains(out.String(), "audit log is disabled") {
		t.Errorf("output = %s", out.String())
	}
}

func TestConsoleQuitPublishesShutdown(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	var mu sync.Mutex
	var got []events.Event
	received := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "test", func(_ context.Context, ev events.Event) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		received <- struct{}{}
		return nil
	})

	var out bytes.Buffer
	// Commands after quit are never read.
	run(t, NewCLI(bus, fakeStatus{}, nil, strings.NewReader("quit\nstatus\n"), &out))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown event not published")
	}
	mu.Lock()
	defer mu.Unlock()
	if got[0].Source != ShutdownSource {
		t.Errorf("source = %s", got[0].Source)
	}
	if strings.Contains(out.String(), "Upstream:") {
		t.Error("console kept running after quit")
	}
}
