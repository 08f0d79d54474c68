package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type inbox chan Envelope

func (i inbox) handler(env Envelope) { i <- env }

func (i inbox) expect(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-i:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func (i inbox) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case env := <-i:
		t.Fatalf("unexpected envelope %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func buses(t *testing.T) map[string]func() Bus {
	return map[string]func() Bus{
		"Local": func() Bus { return NewLocal() },
		"Redis": func() Bus {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedis(client, nil)
		},
	}
}

func TestRoomBroadcastSkipsOrigin(t *testing.T) {
	for name, factory := range buses(t) {
		factory := factory
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bus := factory()
			defer bus.Close()

			a, b := make(inbox, 4), make(inbox, 4)
			if _, err := bus.Subscribe(ctx, "node-a", a.handler); err != nil {
				t.Fatalf("subscribe a: %v", err)
			}
			if _, err := bus.Subscribe(ctx, "node-b", b.handler); err != nil {
				t.Fatalf("subscribe b: %v", err)
			}

			err := bus.PublishRoom(ctx, Envelope{
				Origin:  "node-a",
				RoomID:  "room-1",
				Exclude: []string{"node-a.1"},
				Payload: json.RawMessage(`{"event":"participant-joined"}`),
			})
			if err != nil {
				t.Fatalf("publish: %v", err)
			}

			env := b.expect(t)
			if env.Kind != KindRoom || env.RoomID != "room-1" || len(env.Exclude) != 1 {
				t.Fatalf("unexpected envelope %+v", env)
			}
			if string(env.Payload) != `{"event":"participant-joined"}` {
				t.Fatalf("payload = %s", env.Payload)
			}
			a.expectNothing(t)
		})
	}
}

func TestInstanceDelivery(t *testing.T) {
	for name, factory := range buses(t) {
		factory := factory
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bus := factory()
			defer bus.Close()

			a, b := make(inbox, 4), make(inbox, 4)
			_, _ = bus.Subscribe(ctx, "node-a", a.handler)
			_, _ = bus.Subscribe(ctx, "node-b", b.handler)

			err := bus.PublishInstance(ctx, "node-b", Envelope{
				Origin: "node-a",
				Kind:   KindTerminate,
				ConnID: "node-b.42",
				Reason: "kicked",
			})
			if err != nil {
				t.Fatalf("publish: %v", err)
			}

			env := b.expect(t)
			if env.Kind != KindTerminate || env.ConnID != "node-b.42" || env.Reason != "kicked" {
				t.Fatalf("unexpected envelope %+v", env)
			}
			a.expectNothing(t)
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewLocal()

	a := make(inbox, 1)
	stop, err := bus.Subscribe(ctx, "node-a", a.handler)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	stop()

	_ = bus.PublishInstance(ctx, "node-a", Envelope{Kind: KindDirect})
	a.expectNothing(t)

	_ = bus.Close()
	if err := bus.PublishRoom(ctx, Envelope{RoomID: "room-1"}); err != ErrClosed {
		t.Fatalf("expected closed bus, got %v", err)
	}
}

func TestInstanceOf(t *testing.T) {
	tests := map[string]string{
		"node-a.6f1c":     "node-a",
		"pod.zone-1.1b2e": "pod.zone-1",
		"no-instance":     "",
		".leading":        "",
	}
	for connID, expected := range tests {
		if got := InstanceOf(connID); got != expected {
			t.Fatalf("InstanceOf(%q) = %q, want %q", connID, got, expected)
		}
	}
}
