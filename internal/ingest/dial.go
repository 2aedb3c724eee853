package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/utils"
)

// RetryPolicy bounds the startup connection attempts.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultBackoff
	}
	return p
}

// Dial connects to the broker, retrying with a fixed backoff. When the
// budget is exhausted it returns an error wrapping core.ErrQueueUnavailable.
func Dial(ctx context.Context, url, name string, policy RetryPolicy, logger *zerolog.Logger) (*nats.Conn, error) {
	policy = policy.withDefaults()
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "ingest").Logger()
	}

	var nc *nats.Conn
	err := utils.Retry(ctx, policy.Attempts, policy.Backoff, func(attempt int) error {
		var err error
		nc, err = nats.Connect(url,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(policy.Backoff),
			nats.Timeout(policy.Backoff),
		)
		if err != nil {
			log.Info().Err(err).Int("attempt", attempt).Str("url", url).Msg("waiting for broker")
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connect broker %s: %w: %v", url, core.ErrQueueUnavailable, err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to broker")
	return nc, nil
}
