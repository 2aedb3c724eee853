package presence

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "")
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  newRedisStore(t),
	}
}

func sorted(ids []int64) []int64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestTrackerTTLBoundary(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			tr := NewTracker(store, WithClock(clock.Now))

			if err := tr.Heartbeat(ctx, 1); err != nil {
				t.Fatalf("heartbeat: %v", err)
			}

			clock.Advance(DefaultTTL)
			if online, err := tr.IsOnline(ctx, 1); err != nil || !online {
				t.Fatalf("expected online exactly at TTL, got %v (%v)", online, err)
			}

			clock.Advance(time.Millisecond)
			if online, err := tr.IsOnline(ctx, 1); err != nil || online {
				t.Fatalf("expected offline just past TTL, got %v (%v)", online, err)
			}
		})
	}
}

func TestTrackerListOnlineSweepsExpiredEntries(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			tr := NewTracker(store, WithClock(clock.Now))

			_ = tr.MarkOnline(ctx, 1)
			clock.Advance(20 * time.Second)
			_ = tr.MarkOnline(ctx, 2)

			// User 1 vanished without a close frame and sent nothing for 31s.
			clock.Advance(11 * time.Second)

			users, err := tr.ListOnline(ctx)
			if err != nil {
				t.Fatalf("list online: %v", err)
			}
			if got := sorted(users); len(got) != 1 || got[0] != 2 {
				t.Fatalf("expected only user 2 online, got %v", got)
			}
			if _, ok, _ := store.LastSeen(ctx, 1); ok {
				t.Fatalf("expected expired entry to be swept from the store")
			}
			if n, _ := tr.Count(ctx); n != 1 {
				t.Fatalf("expected count 1, got %d", n)
			}
		})
	}
}

func TestTrackerMarkOfflineIsImmediate(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tr := NewTracker(store)

			_ = tr.MarkOnline(ctx, 3)
			_ = tr.MarkOnline(ctx, 4)
			if err := tr.MarkOffline(ctx, 3); err != nil {
				t.Fatalf("mark offline: %v", err)
			}

			if online, _ := tr.IsOnline(ctx, 3); online {
				t.Fatalf("user 3 should be offline")
			}
			users, _ := tr.ListOnline(ctx)
			if got := sorted(users); len(got) != 1 || got[0] != 4 {
				t.Fatalf("unexpected online set %v", got)
			}
		})
	}
}

func TestTrackerHeartbeatRefreshes(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	tr := NewTracker(NewMemoryStore(), WithClock(clock.Now), WithTTL(10*time.Second))

	_ = tr.MarkOnline(ctx, 9)
	for i := 0; i < 5; i++ {
		clock.Advance(8 * time.Second)
		_ = tr.Heartbeat(ctx, 9)
	}
	if online, _ := tr.IsOnline(ctx, 9); !online {
		t.Fatalf("regular heartbeats should keep the user online")
	}
	if tr.TTL() != 10*time.Second {
		t.Fatalf("unexpected ttl %v", tr.TTL())
	}
}

func TestTrackerUnknownUserIsOffline(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			online, err := NewTracker(store).IsOnline(context.Background(), 404)
			if err != nil || online {
				t.Fatalf("expected unknown user offline, got %v (%v)", online, err)
			}
		})
	}
}
