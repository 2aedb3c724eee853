package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/proto"
	"github.com/vovakirdan/ltchat/internal/utils"
)

// UserHeader carries the author id of a queued record.
const UserHeader = "Ltchat-User-Id"

// JetStreamOptions configures the JetStream-backed queue.
type JetStreamOptions struct {
	Stream        string
	SubjectPrefix string
	Durable       string
	Partitions    int
	MaxAge        time.Duration
	AckWait       time.Duration
	FetchWait     time.Duration
	SubmitTimeout time.Duration
	Retry         RetryPolicy
}

func (o JetStreamOptions) withDefaults() JetStreamOptions {
	if o.Stream == "" {
		o.Stream = "LTCHAT_INGEST"
	}
	if o.SubjectPrefix == "" {
		o.SubjectPrefix = "ingest.messages"
	}
	if o.Durable == "" {
		o.Durable = "persistence"
	}
	if o.Partitions <= 0 {
		o.Partitions = DefaultPartitions
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 7 * 24 * time.Hour
	}
	if o.AckWait <= 0 {
		o.AckWait = 30 * time.Second
	}
	if o.FetchWait <= 0 {
		o.FetchWait = time.Second
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 5 * time.Second
	}
	o.Retry = o.Retry.withDefaults()
	return o
}

// JetStream is a Queue over a NATS JetStream stream with one subject per
// partition.
type JetStream struct {
	js     jetstream.JetStream
	stream jetstream.Stream
	opts   JetStreamOptions
	log    zerolog.Logger
}

// NewJetStream makes sure the stream exists, retrying under opts.Retry.
func NewJetStream(ctx context.Context, nc *nats.Conn, opts JetStreamOptions, logger *zerolog.Logger) (*JetStream, error) {
	opts = opts.withDefaults()
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "ingest").Str("driver", "jetstream").Logger()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w: %v", core.ErrQueueUnavailable, err)
	}

	var stream jetstream.Stream
	err = utils.Retry(ctx, opts.Retry.Attempts, opts.Retry.Backoff, func(attempt int) error {
		var err error
		stream, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:       opts.Stream,
			Subjects:   []string{opts.SubjectPrefix + ".*"},
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     opts.MaxAge,
			Storage:    jetstream.FileStorage,
			Duplicates: min(DuplicateWindow, opts.MaxAge),
		})
		if err != nil {
			log.Info().Err(err).Int("attempt", attempt).Msg("waiting for stream")
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w: %v", opts.Stream, core.ErrQueueUnavailable, err)
	}
	log.Info().Str("stream", opts.Stream).Int("partitions", opts.Partitions).Msg("ingest stream ready")

	return &JetStream{js: js, stream: stream, opts: opts, log: log}, nil
}

func (q *JetStream) Partitions() int {
	return q.opts.Partitions
}

func (q *JetStream) subject(partition int) string {
	return q.opts.SubjectPrefix + "." + strconv.Itoa(partition)
}

// Submit appends env to its channel's partition. The nonce doubles as the
// broker message id, so a resubmitted envelope is stored once.
func (q *JetStream) Submit(ctx context.Context, env *core.Envelope) error {
	data, err := proto.MarshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	msg := &nats.Msg{
		Subject: q.subject(Partition(env.ChannelID, q.opts.Partitions)),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(UserHeader, strconv.FormatInt(env.AuthorID, 10))

	ctx, cancel := context.WithTimeout(ctx, q.opts.SubmitTimeout)
	defer cancel()
	if _, err := q.js.PublishMsg(ctx, msg, jetstream.WithMsgID(env.Nonce)); err != nil {
		return fmt.Errorf("%w: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

// Consumer binds to the durable consumer of partition, creating it on first
// use. Every worker instance shares the same durable, and MaxAckPending of 1
// keeps a single record of the partition outstanding.
func (q *JetStream) Consumer(ctx context.Context, partition int) (Consumer, error) {
	if partition < 0 || partition >= q.opts.Partitions {
		return nil, fmt.Errorf("partition %d out of range [0,%d)", partition, q.opts.Partitions)
	}
	cons, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       q.opts.Durable + "-" + strconv.Itoa(partition),
		FilterSubject: q.subject(partition),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       q.opts.AckWait,
		MaxAckPending: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("consumer for partition %d: %w: %v", partition, core.ErrQueueUnavailable, err)
	}
	return &jsConsumer{cons: cons, wait: q.opts.FetchWait}, nil
}

func (q *JetStream) Close() error {
	return nil
}

type jsConsumer struct {
	cons jetstream.Consumer
	wait time.Duration
}

func (c *jsConsumer) Next(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := c.cons.Next(jetstream.FetchMaxWait(c.wait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return nil, fmt.Errorf("fetch: %w", err)
		}
		return &jsDelivery{msg: msg}, nil
	}
}

func (c *jsConsumer) Close() error {
	return nil
}

type jsDelivery struct {
	msg jetstream.Msg
}

func (d *jsDelivery) Data() []byte {
	return d.msg.Data()
}

func (d *jsDelivery) Attempt() uint64 {
	md, err := d.msg.Metadata()
	if err != nil {
		return 1
	}
	return md.NumDelivered
}

func (d *jsDelivery) Ack(ctx context.Context) error {
	return d.msg.DoubleAck(ctx)
}

func (d *jsDelivery) Nak(_ context.Context, delay time.Duration) error {
	if delay <= 0 {
		return d.msg.Nak()
	}
	return d.msg.NakWithDelay(delay)
}

func (d *jsDelivery) Term(_ context.Context) error {
	return d.msg.Term()
}
