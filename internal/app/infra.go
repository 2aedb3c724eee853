package app

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/ltchat/internal/backplane"
	"github.com/vovakirdan/ltchat/internal/config"
	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/ingest"
	"github.com/vovakirdan/ltchat/internal/presence"
	"github.com/vovakirdan/ltchat/internal/utils"
)

// infra holds the shared connections and the drivers built on them.
type infra struct {
	rdb *redis.Client
	nc  *nats.Conn

	backplane core.Backplane
	queue     ingest.Queue
}

func (in *infra) retryPolicy(cfg *config.Config) ingest.RetryPolicy {
	return ingest.RetryPolicy{Attempts: cfg.ConnectRetries, Backoff: cfg.ConnectBackoff}
}

func needsRedis(cfg *config.Config, withPresence bool) bool {
	return cfg.Backplane == config.DriverRedis || (withPresence && cfg.PresenceStore == config.DriverRedis)
}

func needsNATS(cfg *config.Config) bool {
	return cfg.Backplane == config.DriverNATS || cfg.Queue == config.DriverJetStream
}

// dialRedis connects and pings under the startup retry budget.
func dialRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	err = utils.Retry(ctx, cfg.ConnectRetries, cfg.ConnectBackoff, func(attempt int) error {
		err := rdb.Ping(ctx).Err()
		if err != nil {
			logger.Info().Err(err).Int("attempt", attempt).Str("addr", opts.Addr).Msg("waiting for redis")
		}
		return err
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w: %v", opts.Addr, core.ErrBackplaneUnavailable, err)
	}
	logger.Info().Str("addr", opts.Addr).Msg("connected to redis")
	return rdb, nil
}

// connect opens the brokers the configured drivers need and builds the
// backplane and the ingest queue. On error everything opened so far is closed.
func connect(ctx context.Context, cfg *config.Config, name string, withPresence bool, logger *zerolog.Logger) (_ *infra, err error) {
	in := &infra{}
	defer func() {
		if err != nil {
			in.close(logger)
		}
	}()

	if needsRedis(cfg, withPresence) {
		if in.rdb, err = dialRedis(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}
	if needsNATS(cfg) {
		if in.nc, err = ingest.Dial(ctx, cfg.NATSURL, name, in.retryPolicy(cfg), logger); err != nil {
			return nil, err
		}
	}

	switch cfg.Backplane {
	case config.DriverRedis:
		in.backplane = backplane.NewRedis(in.rdb, logger)
	case config.DriverNATS:
		in.backplane = backplane.NewNATS(in.nc, logger)
	default:
		in.backplane = backplane.NewMemory()
	}

	switch cfg.Queue {
	case config.DriverJetStream:
		var js *ingest.JetStream
		js, err = ingest.NewJetStream(ctx, in.nc, ingest.JetStreamOptions{
			Partitions: cfg.Partitions,
			Retry:      in.retryPolicy(cfg),
		}, logger)
		if err != nil {
			return nil, err
		}
		in.queue = js
	default:
		in.queue = ingest.NewMemory(cfg.Partitions)
	}

	logger.Info().
		Str("backplane", cfg.Backplane).
		Str("queue", cfg.Queue).
		Int("partitions", cfg.Partitions).
		Msg("brokers ready")
	return in, nil
}

func (in *infra) presenceTracker(cfg *config.Config) *presence.Tracker {
	var st presence.Store = presence.NewMemoryStore()
	if cfg.PresenceStore == config.DriverRedis {
		st = presence.NewRedisStore(in.rdb, "")
	}
	return presence.NewTracker(st, presence.WithTTL(cfg.PresenceTTL))
}

func (in *infra) close(logger *zerolog.Logger) {
	if in.queue != nil {
		if err := in.queue.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close queue")
		}
	}
	if in.backplane != nil {
		_ = in.backplane.Close()
	}
	if in.nc != nil {
		if err := in.nc.Drain(); err != nil {
			logger.Warn().Err(err).Msg("failed to drain broker connection")
		}
	}
	if in.rdb != nil {
		if err := in.rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close redis")
		}
	}
}
