package backplane

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/proto"
)

// DefaultRedisPrefix prefixes the pub/sub channel of every chat channel.
const DefaultRedisPrefix = "chat:channel:"

// Redis is a backplane over Redis pub/sub. Every instance subscribes to the
// channels it has local connections for.
type Redis struct {
	client redis.UniversalClient
	prefix string
	log    zerolog.Logger
}

// NewRedis creates a Redis backplane. The client is owned by the caller.
func NewRedis(client redis.UniversalClient, logger *zerolog.Logger) *Redis {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "backplane").Str("driver", "redis").Logger()
	}
	return &Redis{client: client, prefix: DefaultRedisPrefix, log: log}
}

func (r *Redis) key(channelID int64) string {
	return r.prefix + strconv.FormatInt(channelID, 10)
}

func (r *Redis) Publish(ctx context.Context, channelID int64, ev core.Event) error {
	data, err := proto.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.key(channelID), data).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrBackplaneUnavailable, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription.
func (r *Redis) Subscribe(ctx context.Context, channelID int64) (core.Subscription, error) {
	ps := r.client.Subscribe(ctx, r.key(channelID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", core.ErrBackplaneUnavailable, err)
	}

	raw := make(chan []byte)
	p := newPump(ps.Close)
	msgs := ps.Channel()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(raw)
		for {
			select {
			case <-p.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case raw <- []byte(msg.Payload):
				case <-p.done:
					return
				}
			}
		}
	}()
	p.run(raw, r.log.With().Int64("channel_id", channelID).Logger())
	return p, nil
}

func (r *Redis) Close() error {
	return nil
}
