package backplane

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/vovakirdan/ltchat/internal/core"
)

func runNATS(t *testing.T) *nats.Conn {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = server.RANDOM_PORT
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect nats: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func backplanes(t *testing.T) map[string]core.Backplane {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]core.Backplane{
		"memory": NewMemory(),
		"redis":  NewRedis(rdb, nil),
		"nats":   NewNATS(runNATS(t), nil),
	}
}

func recv(t *testing.T, sub core.Subscription) core.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
	return nil
}

func TestBackplaneDelivery(t *testing.T) {
	for name, bp := range backplanes(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Published before anyone listens: never seen.
			early := &core.StatusUpdateEvent{ChannelID: 7, MessageID: 1, Status: core.StatusRead}
			if err := bp.Publish(ctx, 7, early); err != nil {
				t.Fatalf("publish early: %v", err)
			}

			sub7, err := bp.Subscribe(ctx, 7)
			if err != nil {
				t.Fatalf("subscribe 7: %v", err)
			}
			defer sub7.Close()
			sub8, err := bp.Subscribe(ctx, 8)
			if err != nil {
				t.Fatalf("subscribe 8: %v", err)
			}
			defer sub8.Close()

			want := &core.PresenceEvent{ChannelID: 7, UserID: 2, Username: "bob", Status: core.PresenceOnline}
			if err := bp.Publish(ctx, 7, want); err != nil {
				t.Fatalf("publish: %v", err)
			}
			got, ok := recv(t, sub7).(*core.PresenceEvent)
			if !ok || *got != *want {
				t.Fatalf("unexpected event %#v", got)
			}

			other := &core.StatusUpdateEvent{ChannelID: 8, MessageID: 4, Status: core.StatusRead}
			if err := bp.Publish(ctx, 8, other); err != nil {
				t.Fatalf("publish 8: %v", err)
			}
			if su, ok := recv(t, sub8).(*core.StatusUpdateEvent); !ok || su.MessageID != 4 {
				t.Fatalf("channel 8 got %#v", su)
			}
			select {
			case ev := <-sub7.Events():
				t.Fatalf("channel 7 received foreign event %#v", ev)
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}

func TestBackplaneKeepsPublishOrder(t *testing.T) {
	for name, bp := range backplanes(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sub, err := bp.Subscribe(ctx, 3)
			if err != nil {
				t.Fatalf("subscribe: %v", err)
			}
			defer sub.Close()

			for i := int64(1); i <= 20; i++ {
				ev := &core.StatusUpdateEvent{ChannelID: 3, MessageID: i, Status: core.StatusRead}
				if err := bp.Publish(ctx, 3, ev); err != nil {
					t.Fatalf("publish %d: %v", i, err)
				}
			}
			for i := int64(1); i <= 20; i++ {
				su, ok := recv(t, sub).(*core.StatusUpdateEvent)
				if !ok || su.MessageID != i {
					t.Fatalf("position %d: got %#v", i, su)
				}
			}
		})
	}
}

func TestSubscriptionCloseEndsEvents(t *testing.T) {
	for name, bp := range backplanes(t) {
		t.Run(name, func(t *testing.T) {
			sub, err := bp.Subscribe(context.Background(), 5)
			if err != nil {
				t.Fatalf("subscribe: %v", err)
			}
			if err := sub.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			_ = sub.Close()

			select {
			case _, ok := <-sub.Events():
				if ok {
					t.Fatalf("expected closed events channel")
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("events channel not closed")
			}
		})
	}
}

func TestMemoryClosedBus(t *testing.T) {
	bp := NewMemory()
	sub, err := bp.Subscribe(context.Background(), 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected subscription to end with the bus")
	}
	if _, err := bp.Subscribe(context.Background(), 1); err == nil {
		t.Fatalf("expected subscribe on closed bus to fail")
	}
}

func TestNATSSubscribeWithoutDeadline(t *testing.T) {
	bp := NewNATS(runNATS(t), nil)

	// Feeds subscribe under a cancel-only context.
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bp.Subscribe(ctx, 9)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	cancel()

	want := &core.StatusUpdateEvent{ChannelID: 9, MessageID: 3, Status: core.StatusRead}
	if err := bp.Publish(context.Background(), 9, want); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if su, ok := recv(t, sub).(*core.StatusUpdateEvent); !ok || su.MessageID != 3 {
		t.Fatalf("unexpected event %#v", su)
	}
}

func TestMemorySlowSubscriberMissesEvents(t *testing.T) {
	bp := NewMemory(WithSendTimeout(20 * time.Millisecond))
	ctx := context.Background()

	slow, err := bp.Subscribe(ctx, 4)
	if err != nil {
		t.Fatalf("subscribe slow: %v", err)
	}
	defer slow.Close()
	fast, err := bp.Subscribe(ctx, 4)
	if err != nil {
		t.Fatalf("subscribe fast: %v", err)
	}
	defer fast.Close()

	publish := func(i int64) {
		t.Helper()
		ev := &core.StatusUpdateEvent{ChannelID: 4, MessageID: i, Status: core.StatusRead}
		if err := bp.Publish(ctx, 4, ev); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		if su, ok := recv(t, fast).(*core.StatusUpdateEvent); !ok || su.MessageID != i {
			t.Fatalf("fast subscriber got %#v, want message %d", su, i)
		}
	}

	for i := int64(1); i <= subscriptionBuffer; i++ {
		publish(i)
	}
	if n := bp.Dropped(); n != 0 {
		t.Fatalf("expected no drops while the buffer has room, got %d", n)
	}

	start := time.Now()
	for i := int64(subscriptionBuffer + 1); i <= subscriptionBuffer+3; i++ {
		publish(i)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish blocked on a full subscriber for %s", elapsed)
	}
	if n := bp.Dropped(); n != 3 {
		t.Fatalf("expected 3 drops, got %d", n)
	}
	if n := len(slow.Events()); n != subscriptionBuffer {
		t.Fatalf("slow subscriber should hold a full buffer, got %d", n)
	}
}

func TestMemoryPublishHonoursContext(t *testing.T) {
	bp := NewMemory(WithSendTimeout(time.Minute))
	sub, err := bp.Subscribe(context.Background(), 6)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	ev := &core.StatusUpdateEvent{ChannelID: 6, MessageID: 1, Status: core.StatusRead}
	for i := 0; i < subscriptionBuffer; i++ {
		if err := bp.Publish(context.Background(), 6, ev); err != nil {
			t.Fatalf("fill: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := bp.Publish(ctx, 6, ev); err == nil {
		t.Fatalf("expected publish to stop with its context")
	}
}
