package events

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestEmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var got []string
	bus.Subscribe(EventSessionJoined, "a", func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "a:"+e.Payload.(SessionPayload).Username)
		return nil
	})
	bus.Subscribe(EventSessionJoined, "b", func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "b:"+e.Source)
		return nil
	})

	bus.Publish(context.Background(), EventSessionJoined, "hub", SessionPayload{Username: "ghost"})
	bus.Stop()

	if len(got) != 2 {
		t.Fatalf("got %v, want two deliveries", got)
	}
}

func TestFailingHandlersAreContained(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(EventShutdown, "boom", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	bus.Subscribe(EventShutdown, "fails", func(ctx context.Context, e Event) error {
		return errors.New("write failed")
	})
	var stamped bool
	bus.Subscribe(EventShutdown, "ok", func(ctx context.Context, e Event) error {
		stamped = !e.Timestamp.IsZero()
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventShutdown})
	bus.Stop()

	if !stamped {
		t.Error("healthy handler missed the event or it was not stamped")
	}
}

func TestStoppedBusDropsEvents(t *testing.T) {
	bus := NewEventBus()
	called := false
	bus.SubscribeAll("all", func(ctx context.Context, e Event) error {
		called = true
		return nil
	})
	if n := bus.HandlerCount(EventDispatchComplete); n != 1 {
		t.Errorf("handler count = %d", n)
	}

	bus.Stop()
	bus.Stop()
	bus.Publish(context.Background(), EventDispatchComplete, "hub", DispatchPayload{})
	if called {
		t.Error("handler ran after Stop")
	}
}
