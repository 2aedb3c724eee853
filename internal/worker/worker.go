// Package worker persists queued envelopes and republishes them as
// finalized events.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/ingest"
	"github.com/vovakirdan/ltchat/internal/metrics"
	"github.com/vovakirdan/ltchat/internal/proto"
)

// State is the worker lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateConsuming
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConsuming:
		return "consuming"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	defaultRetryDelay     = 2 * time.Second
	defaultProcessTimeout = 30 * time.Second
)

var ErrAlreadyStarted = errors.New("worker already started")

// Options configures a Worker.
type Options struct {
	Queue     ingest.Queue
	Store     core.MessageStore
	Backplane core.Backplane
	// Partitions lists the partitions this worker consumes. Empty means all.
	Partitions []int
	// RetryDelay is how long a failed record waits before redelivery.
	RetryDelay     time.Duration
	ProcessTimeout time.Duration
	Metrics        *metrics.Metrics
	Logger         *zerolog.Logger
}

// Worker consumes the ingest queue. Each partition gets one consume loop with
// a single record in flight; a record is acked only after it was stored and
// its finalized event was published.
type Worker struct {
	queue      ingest.Queue
	store      core.MessageStore
	backplane  core.Backplane
	partitions []int
	retryDelay time.Duration
	timeout    time.Duration
	metrics    *metrics.Metrics
	log        zerolog.Logger

	state   atomic.Int32
	started atomic.Bool
	stop    chan struct{}
	stopped sync.Once
	done    chan struct{}
}

// New validates opts and returns a worker in StateStarting.
func New(opts Options) (*Worker, error) {
	if opts.Queue == nil || opts.Store == nil || opts.Backplane == nil {
		return nil, errors.New("worker: queue, store and backplane are required")
	}
	partitions := opts.Partitions
	if len(partitions) == 0 {
		partitions = make([]int, opts.Queue.Partitions())
		for i := range partitions {
			partitions[i] = i
		}
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = defaultProcessTimeout
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "worker").Logger()
	}

	return &Worker{
		queue:      opts.Queue,
		store:      opts.Store,
		backplane:  opts.Backplane,
		partitions: partitions,
		retryDelay: opts.RetryDelay,
		timeout:    opts.ProcessTimeout,
		metrics:    opts.Metrics,
		log:        log,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Done is closed once the worker reached StateStopped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Stop asks the worker to stop fetching. Records already fetched are
// finished before Run returns.
func (w *Worker) Stop() {
	w.stopped.Do(func() { close(w.stop) })
}

// Run binds the partition consumers and consumes until ctx is cancelled or
// Stop is called. A consumer that cannot be bound fails Run before any
// record is fetched.
func (w *Worker) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(w.done)
	defer w.state.Store(int32(StateStopped))

	consumers := make([]ingest.Consumer, 0, len(w.partitions))
	defer func() {
		for _, c := range consumers {
			_ = c.Close()
		}
	}()
	for _, p := range w.partitions {
		c, err := w.queue.Consumer(ctx, p)
		if err != nil {
			return fmt.Errorf("bind partition %d: %w", p, err)
		}
		consumers = append(consumers, c)
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
		case <-fetchCtx.Done():
		}
		w.state.CompareAndSwap(int32(StateConsuming), int32(StateStopping))
		cancel()
	}()

	w.state.Store(int32(StateConsuming))
	w.log.Info().Ints("partitions", w.partitions).Msg("worker consuming")

	g, gctx := errgroup.WithContext(fetchCtx)
	for i, c := range consumers {
		partition := w.partitions[i]
		g.Go(func() error {
			w.consume(gctx, partition, c)
			return nil
		})
	}
	err := g.Wait()

	w.log.Info().Msg("worker stopped")
	return err
}

func (w *Worker) consume(ctx context.Context, partition int, c ingest.Consumer) {
	log := w.log.With().Int("partition", partition).Logger()
	for {
		d, err := c.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("fetch failed")
			if !sleep(ctx, w.retryDelay) {
				return
			}
			continue
		}

		// A fetched record is finished even if the worker is stopping.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
		w.process(pctx, log, d)
		cancel()
	}
}

// process stores one record, publishes its finalized event and acks it.
// Any failure before the ack hands the record back for redelivery.
func (w *Worker) process(ctx context.Context, log zerolog.Logger, d ingest.Delivery) {
	env, err := proto.UnmarshalEnvelope(d.Data())
	if err != nil {
		w.metrics.PersistFailed("decode")
		log.Error().Err(err).Msg("dropping undecodable record")
		if err := d.Term(ctx); err != nil {
			log.Warn().Err(err).Msg("term failed")
		}
		return
	}
	log = log.With().
		Int64("channel_id", env.ChannelID).
		Str("temp_id", env.Nonce).
		Uint64("attempt", d.Attempt()).
		Logger()

	msg, err := w.store.SaveMessage(ctx, env)
	if err != nil {
		w.metrics.PersistFailed("store")
		log.Warn().Err(fmt.Errorf("%w: %v", core.ErrPersistenceFailed, err)).Msg("persist failed, record will be redelivered")
		w.nak(ctx, log, d)
		return
	}

	if err := w.backplane.Publish(ctx, msg.ChannelID, core.FinalizedEvent(msg)); err != nil {
		w.metrics.PersistFailed("publish")
		log.Warn().Err(err).Int64("message_id", msg.ID).Msg("finalized publish failed, record will be redelivered")
		w.nak(ctx, log, d)
		return
	}

	if err := d.Ack(ctx); err != nil {
		// The record comes back and is stored idempotently.
		log.Warn().Err(err).Int64("message_id", msg.ID).Msg("ack failed")
		return
	}
	w.metrics.Persisted()
	log.Debug().Int64("message_id", msg.ID).Msg("message persisted")
}

func (w *Worker) nak(ctx context.Context, log zerolog.Logger, d ingest.Delivery) {
	if err := d.Nak(ctx, w.retryDelay); err != nil {
		log.Warn().Err(err).Msg("nak failed")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
