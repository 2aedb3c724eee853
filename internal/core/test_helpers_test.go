package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func mustEvent[T Event](t *testing.T, conn *Connection) T {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-conn.Events():
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("expected event %T not received on %s", zero, conn.ID)
			return zero
		}
	}
}

func drain(conn *Connection) {
	for {
		select {
		case <-conn.Events():
		default:
			return
		}
	}
}

// fakeBackplane delivers published events to in-process subscribers.
type fakeBackplane struct {
	mu     sync.Mutex
	subs   map[int64][]*fakeSub
	sent   []Event
	closed int

	// When gate is set, Subscribe signals entered and waits for gate.
	gate    chan struct{}
	entered chan struct{}
}

type fakeSub struct {
	bp     *fakeBackplane
	ch     int64
	events chan Event
	once   sync.Once
}

func newFakeBackplane() *fakeBackplane {
	return &fakeBackplane{subs: make(map[int64][]*fakeSub)}
}

func (b *fakeBackplane) Publish(ctx context.Context, channelID int64, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, ev)
	for _, s := range b.subs[channelID] {
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *fakeBackplane) Subscribe(_ context.Context, channelID int64) (Subscription, error) {
	if b.gate != nil {
		b.entered <- struct{}{}
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &fakeSub{bp: b, ch: channelID, events: make(chan Event, 64)}
	b.subs[channelID] = append(b.subs[channelID], s)
	return s, nil
}

func (b *fakeBackplane) Close() error { return nil }

func (b *fakeBackplane) published() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.sent))
	copy(out, b.sent)
	return out
}

func (s *fakeSub) Events() <-chan Event { return s.events }

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		s.bp.mu.Lock()
		defer s.bp.mu.Unlock()
		subs := s.bp.subs[s.ch]
		for i, other := range subs {
			if other == s {
				s.bp.subs[s.ch] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.bp.closed++
		close(s.events)
	})
	return nil
}

func (b *fakeBackplane) closedSubs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type fakeProducer struct {
	mu        sync.Mutex
	err       error
	envelopes []*Envelope
}

func (p *fakeProducer) Submit(_ context.Context, env *Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.envelopes = append(p.envelopes, env)
	return nil
}

type fakePresence struct {
	mu      sync.Mutex
	online  map[int64]bool
	offline []int64
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[int64]bool)}
}

func (p *fakePresence) MarkOnline(_ context.Context, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = true
	return nil
}

func (p *fakePresence) MarkOffline(_ context.Context, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
	p.offline = append(p.offline, userID)
	return nil
}

func (p *fakePresence) Heartbeat(ctx context.Context, userID int64) error {
	return p.MarkOnline(ctx, userID)
}

func (p *fakePresence) ListOnline(context.Context) ([]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	return out, nil
}

func (p *fakePresence) IsOnline(_ context.Context, userID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID], nil
}

func (p *fakePresence) Count(ctx context.Context) (int, error) {
	users, err := p.ListOnline(ctx)
	return len(users), err
}

type fakeReceipts struct {
	known map[int64]int64 // message id -> channel id
	read  []int64
}

func (r *fakeReceipts) MarkRead(_ context.Context, channelID, messageID int64) error {
	if ch, ok := r.known[messageID]; !ok || ch != channelID {
		return ErrMessageNotFound
	}
	r.read = append(r.read, messageID)
	return nil
}

type testHub struct {
	*Hub
	backplane *fakeBackplane
	producer  *fakeProducer
	presence  *fakePresence
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()

	th := &testHub{
		backplane: newFakeBackplane(),
		producer:  &fakeProducer{},
		presence:  newFakePresence(),
	}
	th.Hub = NewHub(HubOptions{
		Presence:    th.presence,
		Backplane:   th.backplane,
		Producer:    th.producer,
		SendTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(th.Shutdown)
	return th
}

func openSession(t *testing.T, h *Hub, channelID, userID int64, name string) *Session {
	t.Helper()

	conn := NewConnection(channelID, Identity{UserID: userID, Username: name}, 16)
	s := h.NewSession(conn)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open session: %v", err)
	}
	return s
}
