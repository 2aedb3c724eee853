package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/ltchat/internal/auth"
	"github.com/vovakirdan/ltchat/internal/config"
	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/metrics"
	"github.com/vovakirdan/ltchat/internal/store"
	"github.com/vovakirdan/ltchat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/ltchat/internal/transport/http"
	"github.com/vovakirdan/ltchat/internal/worker"
)

// App wires together core, brokers, storage and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	worker          *worker.Worker
	store           store.Store
	infra           *infra
	log             *zerolog.Logger
}

// New constructs the gateway: websocket sessions, the REST façade and, when
// cfg.EmbedWorker is set, a persistence worker in the same process. Failing to
// reach a configured broker aborts construction.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	ctx := context.Background()

	st, err := sqlite.New(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	in, err := connect(ctx, cfg, "ltchat-gateway", true, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	reg, m := newMetrics()

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}

	var membership core.MembershipChecker = core.AllowAll{}
	if cfg.MembershipCheck {
		membership = store.Membership{Store: st}
	}

	hub := core.NewHub(core.HubOptions{
		Presence:    in.presenceTracker(cfg),
		Backplane:   in.backplane,
		Producer:    in.queue,
		Receipts:    st,
		Metrics:     m,
		Logger:      logger,
		SendTimeout: cfg.SendTimeout,
	})

	a := &App{
		server: transporthttp.NewServer(transporthttp.Deps{
			Hub:        hub,
			Auth:       auth.NewVerifier(jwtConfig),
			Membership: membership,
			History:    st,
			Metrics:    m,
			Gatherer:   reg,
		}, cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		infra:           in,
		log:             logger,
	}

	if cfg.EmbedWorker {
		if a.worker, err = newWorker(cfg, st, in, m, logger); err != nil {
			a.cleanup()
			return nil, err
		}
	}
	return a, nil
}

// NewWorker constructs a standalone persistence worker that also serves
// /health and /metrics on cfg.Addr.
func NewWorker(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	ctx := context.Background()

	st, err := sqlite.New(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	in, err := connect(ctx, cfg, "ltchat-worker", false, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	reg, m := newMetrics()
	a := &App{
		server:          transporthttp.NewOpsServer(reg, cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		infra:           in,
		log:             logger,
	}
	if a.worker, err = newWorker(cfg, st, in, m, logger); err != nil {
		a.cleanup()
		return nil, err
	}
	return a, nil
}

func newWorker(cfg *config.Config, st store.Store, in *infra, m *metrics.Metrics, logger *zerolog.Logger) (*worker.Worker, error) {
	w, err := worker.New(worker.Options{
		Queue:      in.queue,
		Store:      st,
		Backplane:  in.backplane,
		Partitions: cfg.WorkerPartitions,
		RetryDelay: cfg.WorkerRetryDelay,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init worker: %w", err)
	}
	return w, nil
}

func newMetrics() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.New(reg)
}

// Run starts the HTTP server, the hub and the worker, and blocks until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)
	// Hijacked websocket connections outlive server.Shutdown; tie their
	// request contexts to the group so sessions close on shutdown.
	a.server.BaseContext = func(net.Listener) context.Context { return gctx }

	if a.hub != nil {
		g.Go(func() error {
			a.hub.Run(gctx)
			return nil
		})
	}
	if a.worker != nil {
		g.Go(func() error {
			if err := a.worker.Run(gctx); err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cleanup closes brokers, database and other resources.
func (a *App) cleanup() {
	if a.infra != nil {
		a.infra.close(a.log)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
