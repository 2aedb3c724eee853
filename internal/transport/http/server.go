package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/ltchat/internal/config"
	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/metrics"
	"github.com/vovakirdan/ltchat/internal/store"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Hub        *core.Hub
	Auth       core.Authenticator
	Membership core.MembershipChecker
	// History is optional; without it the history route is not mounted.
	History  store.HistoryStore
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewServer builds the HTTP server with every route mounted. The websocket
// route sits on the stdlib mux; gin serves everything else.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	ws := NewWSHandler(deps.Hub, deps.Auth, deps.Membership, deps.Metrics, WSOptions{
		OutboundBuffer:     cfg.OutboundBuffer,
		MaxMessageBytes:    cfg.MaxMessageBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, logger)

	mux := stdhttp.NewServeMux()
	mux.Handle("GET /ws/{channel_id}", ws)
	mux.Handle("/", NewRouter(deps, logger))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter builds the gin engine for the REST API, health and metrics.
func NewRouter(deps Deps, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.Use(AuthMiddleware(deps.Auth, logger))

	presence := NewPresenceHandlers(deps.Hub.Presence(), logger)
	api.GET("/presence/online", presence.Online)
	api.GET("/presence/user/:user_id", presence.User)
	api.POST("/presence/heartbeat", presence.Heartbeat)
	api.GET("/presence/count", presence.Count)

	if deps.History != nil {
		channels := NewChannelHandlers(deps.History, deps.Membership, logger)
		api.GET("/channels/:channel_id/messages", channels.ListMessages)
	}

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

// NewOpsServer serves only /health and /metrics. The standalone worker uses it.
func NewOpsServer(gatherer prometheus.Gatherer, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
