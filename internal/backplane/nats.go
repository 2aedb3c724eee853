package backplane

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/proto"
)

// DefaultNATSPrefix prefixes the subject of every chat channel.
const DefaultNATSPrefix = "chat.channel."

// subscribeFlushTimeout bounds the round trip that confirms a subscription
// when the caller's context carries no deadline.
const subscribeFlushTimeout = 5 * time.Second

// NATS is a backplane over core NATS subjects.
type NATS struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// NewNATS creates a NATS backplane. The connection is owned by the caller.
func NewNATS(nc *nats.Conn, logger *zerolog.Logger) *NATS {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "backplane").Str("driver", "nats").Logger()
	}
	return &NATS{nc: nc, prefix: DefaultNATSPrefix, log: log}
}

func (n *NATS) subject(channelID int64) string {
	return n.prefix + strconv.FormatInt(channelID, 10)
}

func (n *NATS) Publish(_ context.Context, channelID int64, ev core.Event) error {
	data, err := proto.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := n.nc.Publish(n.subject(channelID), data); err != nil {
		return fmt.Errorf("%w: %v", core.ErrBackplaneUnavailable, err)
	}
	return nil
}

// Subscribe returns once the server has registered interest in the subject.
func (n *NATS) Subscribe(ctx context.Context, channelID int64) (core.Subscription, error) {
	msgs := make(chan *nats.Msg, subscriptionBuffer)
	sub, err := n.nc.ChanSubscribe(n.subject(channelID), msgs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrBackplaneUnavailable, err)
	}
	// FlushWithContext refuses contexts without a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, subscribeFlushTimeout)
		defer cancel()
	}
	if err := n.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("%w: %v", core.ErrBackplaneUnavailable, err)
	}

	raw := make(chan []byte)
	p := newPump(sub.Unsubscribe)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(raw)
		for {
			select {
			case <-p.done:
				return
			case msg := <-msgs:
				select {
				case raw <- msg.Data:
				case <-p.done:
					return
				}
			}
		}
	}()
	p.run(raw, n.log.With().Int64("channel_id", channelID).Logger())
	return p, nil
}

func (n *NATS) Close() error {
	return nil
}
