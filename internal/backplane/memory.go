package backplane

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vovakirdan/ltchat/internal/core"
)

// DefaultMemorySendTimeout bounds how long Publish waits on one subscriber
// whose buffer is full.
const DefaultMemorySendTimeout = 2 * time.Second

// Memory is a single-process backplane. It is used by tests and by
// deployments that run exactly one gateway instance.
type Memory struct {
	mu          sync.RWMutex
	subs        map[int64]map[*memorySub]struct{}
	closed      bool
	sendTimeout time.Duration
	dropped     atomic.Uint64
}

// MemoryOption configures a Memory backplane.
type MemoryOption func(*Memory)

// WithSendTimeout sets the per-subscriber wait of Publish.
func WithSendTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.sendTimeout = d
		}
	}
}

type memorySub struct {
	bus       *Memory
	channelID int64
	events    chan core.Event
	done      chan struct{}
	once      sync.Once
}

// NewMemory creates an empty in-process backplane.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		subs:        make(map[int64]map[*memorySub]struct{}),
		sendTimeout: DefaultMemorySendTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish hands ev to every current subscriber of channelID. A subscriber
// whose buffer stays full for the send timeout misses the event; the others
// still get it.
func (m *Memory) Publish(ctx context.Context, channelID int64, ev core.Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return core.ErrBackplaneUnavailable
	}
	for sub := range m.subs[channelID] {
		select {
		case sub.events <- ev:
			continue
		case <-sub.done:
			continue
		default:
		}

		timer := time.NewTimer(m.sendTimeout)
		select {
		case sub.events <- ev:
		case <-sub.done:
		case <-timer.C:
			m.dropped.Add(1)
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("publish channel %d: %w", channelID, ctx.Err())
		}
		timer.Stop()
	}
	return nil
}

// Dropped returns how many deliveries were skipped because a subscriber
// stayed full for the send timeout.
func (m *Memory) Dropped() uint64 {
	return m.dropped.Load()
}

// Subscribe registers a subscriber for channelID.
func (m *Memory) Subscribe(_ context.Context, channelID int64) (core.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, core.ErrBackplaneUnavailable
	}
	sub := &memorySub{
		bus:       m,
		channelID: channelID,
		events:    make(chan core.Event, subscriptionBuffer),
		done:      make(chan struct{}),
	}
	set, ok := m.subs[channelID]
	if !ok {
		set = make(map[*memorySub]struct{})
		m.subs[channelID] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Close ends every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	var all []*memorySub
	for _, set := range m.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range all {
		_ = sub.Close()
	}
	return nil
}

func (s *memorySub) Events() <-chan core.Event {
	return s.events
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		// Publishers give up on done before the lock is taken, so closing
		// events below never races with a send.
		close(s.done)
		s.bus.mu.Lock()
		if set, ok := s.bus.subs[s.channelID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bus.subs, s.channelID)
			}
		}
		close(s.events)
		s.bus.mu.Unlock()
	})
	return nil
}
