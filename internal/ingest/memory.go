package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/proto"
)

var errDeliverySettled = errors.New("delivery already settled")

// Memory is an in-process Queue with the same partition semantics as
// JetStream: records of one partition come out in submission order and only
// one of them is outstanding at a time.
type Memory struct {
	parts  []*memPartition
	mu     sync.Mutex
	closed bool

	// Nonces submitted within window, oldest first in order.
	window time.Duration
	seen   map[string]time.Time
	order  []string
	now    func() time.Time
}

// MemoryOption configures a Memory queue.
type MemoryOption func(*Memory)

// WithDuplicateWindow sets how long a nonce is remembered after submission.
func WithDuplicateWindow(d time.Duration) MemoryOption {
	return func(q *Memory) {
		if d > 0 {
			q.window = d
		}
	}
}

// WithClock replaces the clock used to expire remembered nonces.
func WithClock(now func() time.Time) MemoryOption {
	return func(q *Memory) {
		if now != nil {
			q.now = now
		}
	}
}

type memRecord struct {
	data     []byte
	attempts uint64
	readyAt  time.Time
}

type memPartition struct {
	mu       sync.Mutex
	records  []*memRecord
	inflight bool
	notify   chan struct{}
	closed   chan struct{}
}

// NewMemory creates an in-process queue with n partitions.
func NewMemory(n int, opts ...MemoryOption) *Memory {
	if n <= 0 {
		n = DefaultPartitions
	}
	q := &Memory{
		parts:  make([]*memPartition, n),
		window: DuplicateWindow,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	for i := range q.parts {
		q.parts[i] = &memPartition{notify: make(chan struct{}, 1), closed: make(chan struct{})}
	}
	return q
}

func (q *Memory) Partitions() int {
	return len(q.parts)
}

// Submit appends env to its partition. A nonce already submitted within the
// duplicate window is ignored.
func (q *Memory) Submit(_ context.Context, env *core.Envelope) error {
	data, err := proto.MarshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("%w: queue closed", core.ErrQueueUnavailable)
	}
	now := q.now()
	q.forget(now)
	if _, dup := q.seen[env.Nonce]; dup {
		q.mu.Unlock()
		return nil
	}
	q.seen[env.Nonce] = now
	q.order = append(q.order, env.Nonce)
	q.mu.Unlock()

	p := q.parts[Partition(env.ChannelID, len(q.parts))]
	p.mu.Lock()
	p.records = append(p.records, &memRecord{data: data})
	p.mu.Unlock()
	p.wake()
	return nil
}

// forget drops nonces older than the duplicate window. Caller holds q.mu.
func (q *Memory) forget(now time.Time) {
	cutoff := now.Add(-q.window)
	i := 0
	for ; i < len(q.order); i++ {
		if q.seen[q.order[i]].After(cutoff) {
			break
		}
		delete(q.seen, q.order[i])
	}
	if i > 0 {
		q.order = append(q.order[:0:0], q.order[i:]...)
	}
}

// Remembered returns how many nonces are currently held for deduplication.
func (q *Memory) Remembered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.seen)
}

// Pending returns the number of records not yet acked in partition.
func (q *Memory) Pending(partition int) int {
	p := q.parts[partition]
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.records)
	if p.inflight {
		n++
	}
	return n
}

func (q *Memory) Consumer(_ context.Context, partition int) (Consumer, error) {
	if partition < 0 || partition >= len(q.parts) {
		return nil, fmt.Errorf("partition %d out of range [0,%d)", partition, len(q.parts))
	}
	return &memConsumer{p: q.parts[partition]}, nil
}

// Close wakes every blocked consumer with an error.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, p := range q.parts {
		close(p.closed)
	}
	return nil
}

func (p *memPartition) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

type memConsumer struct {
	p *memPartition
}

func (c *memConsumer) Next(ctx context.Context) (Delivery, error) {
	p := c.p
	for {
		p.mu.Lock()
		var wait time.Duration
		if !p.inflight && len(p.records) > 0 {
			head := p.records[0]
			if d := time.Until(head.readyAt); d > 0 {
				wait = d
			} else {
				p.records = p.records[1:]
				p.inflight = true
				head.attempts++
				p.mu.Unlock()
				return &memDelivery{p: p, rec: head}, nil
			}
		}
		p.mu.Unlock()

		var timer *time.Timer
		var fire <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		var err error
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-p.closed:
			err = fmt.Errorf("%w: queue closed", core.ErrQueueUnavailable)
		case <-p.notify:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *memConsumer) Close() error {
	return nil
}

type memDelivery struct {
	p       *memPartition
	rec     *memRecord
	settled bool
}

func (d *memDelivery) Data() []byte {
	return d.rec.data
}

func (d *memDelivery) Attempt() uint64 {
	return d.rec.attempts
}

func (d *memDelivery) settle(requeue bool, delay time.Duration) error {
	p := d.p
	p.mu.Lock()
	if d.settled {
		p.mu.Unlock()
		return errDeliverySettled
	}
	d.settled = true
	p.inflight = false
	if requeue {
		d.rec.readyAt = time.Now().Add(delay)
		p.records = append([]*memRecord{d.rec}, p.records...)
	}
	p.mu.Unlock()
	p.wake()
	return nil
}

func (d *memDelivery) Ack(context.Context) error {
	return d.settle(false, 0)
}

func (d *memDelivery) Nak(_ context.Context, delay time.Duration) error {
	return d.settle(true, delay)
}

func (d *memDelivery) Term(context.Context) error {
	return d.settle(false, 0)
}
