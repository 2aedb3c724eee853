package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/ltchat/internal/metrics"
)

const defaultSendTimeout = 2 * time.Second

// HubOptions holds the collaborators a Hub is built from.
type HubOptions struct {
	Registry  *Registry
	Presence  PresenceTracker
	Backplane Backplane
	Producer  Producer
	Receipts  ReceiptStore
	Metrics   *metrics.Metrics
	Logger    *zerolog.Logger

	// SendTimeout bounds a single send during a broadcast pass.
	SendTimeout time.Duration
	// Now is the clock used for message timestamps.
	Now func() time.Time
}

// Hub connects local connections to the backplane. It keeps one backplane
// subscription per channel that has local connections and fans every event
// out to a snapshot of that channel's connections.
type Hub struct {
	registry    *Registry
	presence    PresenceTracker
	backplane   Backplane
	producer    Producer
	receipts    ReceiptStore
	metrics     *metrics.Metrics
	log         zerolog.Logger
	sendTimeout time.Duration
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	feeds map[int64]*feed
}

// feed is the shared backplane subscription of one channel.
type feed struct {
	channelID int64
	refs      int
	ready     chan struct{}
	err       error
	sub       Subscription
	cancel    context.CancelFunc
}

// NewHub creates a hub. Registry, Presence, Backplane and Producer are required.
func NewHub(opts HubOptions) *Hub {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "hub").Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:    opts.Registry,
		presence:    opts.Presence,
		backplane:   opts.Backplane,
		producer:    opts.Producer,
		receipts:    opts.Receipts,
		metrics:     opts.Metrics,
		log:         logger,
		sendTimeout: opts.SendTimeout,
		now:         opts.Now,
		ctx:         ctx,
		cancel:      cancel,
		feeds:       make(map[int64]*feed),
	}
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Presence returns the hub's presence tracker.
func (h *Hub) Presence() PresenceTracker {
	return h.presence
}

// Run blocks until ctx is cancelled and then stops every channel feed.
func (h *Hub) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-h.ctx.Done():
	}
	h.Shutdown()
}

// Shutdown cancels all channel feeds and waits for their goroutines.
func (h *Hub) Shutdown() {
	h.cancel()

	h.mu.Lock()
	feeds := make([]*feed, 0, len(h.feeds))
	for id, f := range h.feeds {
		feeds = append(feeds, f)
		delete(h.feeds, id)
	}
	h.mu.Unlock()

	for _, f := range feeds {
		<-f.ready
		f.stop()
	}
	h.wg.Wait()
}

// Publish sends ev to every subscriber of its channel on every instance.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	err := h.backplane.Publish(ctx, ev.Channel(), ev)
	h.metrics.Published(eventType(ev), err)
	if err != nil {
		return fmt.Errorf("publish to channel %d: %w", ev.Channel(), err)
	}
	return nil
}

// Broadcast delivers ev to every local connection of channelID. Sends run
// concurrently, each bounded by the send timeout. Connections whose send
// failed are evicted after the pass; the evicted connections are returned.
func (h *Hub) Broadcast(ctx context.Context, channelID int64, ev Event) []*Connection {
	start := time.Now()
	conns := h.registry.Snapshot(channelID)
	if len(conns) == 0 {
		return nil
	}

	results := make([]error, len(conns))
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *Connection) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
			defer cancel()
			results[i] = conn.Send(sendCtx, ev)
		}(i, conn)
	}
	wg.Wait()
	if ctx.Err() != nil {
		// Sends were cut short by shutdown, not by the peers.
		return nil
	}

	var dead []*Connection
	for i, err := range results {
		if err == nil {
			continue
		}
		h.log.Debug().Err(err).
			Int64("channel_id", channelID).
			Str("conn_id", conns[i].ID).
			Int64("user_id", conns[i].UserID).
			Msg("send failed, evicting connection")
		dead = append(dead, conns[i])
	}
	for _, conn := range dead {
		h.evict(conn)
	}

	h.metrics.BroadcastPass(time.Since(start).Seconds(), len(conns)-len(dead), len(dead))
	return dead
}

func (h *Hub) evict(conn *Connection) {
	h.registry.Unregister(conn.ChannelID, conn)
	conn.Close()
}

// acquireFeed makes sure the channel has a running backplane subscription and
// takes a reference on it.
func (h *Hub) acquireFeed(channelID int64) error {
	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		return fmt.Errorf("hub stopped: %w", h.ctx.Err())
	}
	if f, ok := h.feeds[channelID]; ok {
		f.refs++
		h.mu.Unlock()
		<-f.ready
		if f.err != nil {
			h.releaseFeed(channelID)
			return f.err
		}
		return nil
	}
	f := &feed{channelID: channelID, refs: 1, ready: make(chan struct{})}
	h.feeds[channelID] = f
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(h.ctx)
	sub, err := h.backplane.Subscribe(ctx, channelID)
	if err != nil {
		cancel()
		f.err = fmt.Errorf("subscribe channel %d: %w", channelID, err)
		close(f.ready)
		h.releaseFeed(channelID)
		return f.err
	}
	// Shutdown cancels h.ctx before it takes h.mu, so a feed registered
	// with the WaitGroup here is always waited for.
	h.mu.Lock()
	if err := h.ctx.Err(); err != nil {
		f.err = fmt.Errorf("hub stopped: %w", err)
		close(f.ready)
		h.mu.Unlock()
		cancel()
		_ = sub.Close()
		h.releaseFeed(channelID)
		return f.err
	}
	f.sub = sub
	f.cancel = cancel
	h.wg.Add(1)
	close(f.ready)
	h.mu.Unlock()

	go h.runFeed(ctx, f)
	return nil
}

// releaseFeed drops a reference and stops the subscription when none remain.
func (h *Hub) releaseFeed(channelID int64) {
	h.mu.Lock()
	f, ok := h.feeds[channelID]
	if !ok {
		h.mu.Unlock()
		return
	}
	f.refs--
	if f.refs > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.feeds, channelID)
	h.mu.Unlock()

	<-f.ready
	f.stop()
}

func (f *feed) stop() {
	if f.cancel != nil {
		f.cancel()
	}
	if f.sub != nil {
		_ = f.sub.Close()
	}
}

func (h *Hub) runFeed(ctx context.Context, f *feed) {
	defer h.wg.Done()

	events := f.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					h.log.Warn().Int64("channel_id", f.channelID).Msg("backplane subscription ended")
				}
				return
			}
			h.Broadcast(ctx, f.channelID, ev)
		}
	}
}

func eventType(ev Event) string {
	switch ev.(type) {
	case *PresenceEvent:
		return "presence"
	case *MessageEvent:
		return "message"
	case *StatusUpdateEvent:
		return "status_update"
	case *PresenceSnapshotEvent:
		return "presence_init"
	default:
		return "unknown"
	}
}
