package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/metrics"
	"github.com/vovakirdan/ltchat/internal/proto"
)

var errEvicted = errors.New("connection evicted")

// WSOptions tunes per-connection limits.
type WSOptions struct {
	OutboundBuffer     int
	MaxMessageBytes    int64
	RateLimitPerMinute int
}

// WSHandler authenticates a channel connection, upgrades it and drives its
// session.
type WSHandler struct {
	hub        *core.Hub
	authn      core.Authenticator
	membership core.MembershipChecker
	metrics    *metrics.Metrics
	opts       WSOptions
	log        *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authn core.Authenticator, membership core.MembershipChecker, m *metrics.Metrics, opts WSOptions, logger *zerolog.Logger) *WSHandler {
	if membership == nil {
		membership = core.AllowAll{}
	}
	return &WSHandler{
		hub:        hub,
		authn:      authn,
		membership: membership,
		metrics:    m,
		opts:       opts,
		log:        logger,
	}
}

// ServeHTTP serves GET /ws/{channel_id}. Every rejection happens before the
// upgrade, as a plain HTTP error. Mount it on a stdlib mux, not gin:
// websocket.Accept hijacks the connection after writing the 101.
func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	channelID, err := strconv.ParseInt(r.PathValue("channel_id"), 10, 64)
	if err != nil || channelID <= 0 {
		writeJSON(w, stdhttp.StatusBadRequest, ErrorResponse{Error: "invalid channel id"})
		return
	}

	id, err := h.authn.Authenticate(r.Context(), requestToken(r))
	if err != nil {
		h.log.Debug().Err(err).Int64("channel_id", channelID).Msg("ws auth rejected")
		writeJSON(w, stdhttp.StatusUnauthorized, ErrorResponse{Error: core.ErrorFor(err).Message})
		return
	}

	ok, err := h.membership.CanJoin(r.Context(), id.UserID, channelID)
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Int64("user_id", id.UserID).Msg("membership check failed")
		writeJSON(w, stdhttp.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !ok {
		writeJSON(w, stdhttp.StatusForbidden, ErrorResponse{Error: "not a member of this channel"})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.MaxMessageBytes)
	}

	h.log.Debug().Int64("channel_id", channelID).Int64("user_id", id.UserID).Msg("ws connection accepted")
	h.serve(r.Context(), conn, core.NewConnection(channelID, id, h.opts.OutboundBuffer))
}

func writeJSON(w stdhttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *WSHandler) serve(ctx context.Context, conn *websocket.Conn, client *core.Connection) {
	log := h.log.With().
		Str("conn_id", client.ID).
		Int64("channel_id", client.ChannelID).
		Int64("user_id", client.UserID).
		Logger()

	session := h.hub.NewSession(client)
	if err := session.Open(ctx); err != nil {
		log.Warn().Err(err).Msg("session open failed")
		conn.Close(websocket.StatusTryAgainLater, "channel unavailable")
		return
	}
	defer session.Close(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, session, log)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, log)
	}()

	err := <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
	case errors.Is(err, errEvicted):
		status = websocket.StatusPolicyViolation
		reason = "too slow"
		log.Info().Msg("closing evicted connection")
	default:
		if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
			break
		}
		status = websocket.StatusInternalError
		reason = "connection error"
		log.Debug().Err(err).Msg("ws connection closed with error")
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session, log zerolog.Logger) error {
	limiter := newRateLimiter(h.opts.RateLimitPerMinute)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		inbound, err := proto.ParseInbound(data)
		if err == nil {
			var cmd *core.Command
			if cmd, err = inboundToCommand(inbound); err == nil {
				if cmd.Kind == core.CommandSendMessage && !limiter.allow() {
					h.metrics.FrameDropped("rate_limited")
					if err := wsjson.Write(ctx, conn, proto.NewError(core.ErrCodeRateLimited, "slow down")); err != nil {
						return err
					}
					continue
				}
				err = session.Dispatch(ctx, cmd)
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, core.ErrMalformedFrame), errors.Is(err, core.ErrMessageNotFound):
			h.metrics.FrameDropped("malformed")
			log.Debug().Err(err).Msg("dropping frame")
		case errors.Is(err, core.ErrQueueUnavailable):
			// The optimistic echo already went out; tell the author it will
			// not be persisted.
			log.Warn().Err(err).Msg("message not queued")
			ce := core.ErrorFor(err)
			if err := wsjson.Write(ctx, conn, proto.NewError(ce.Code, "message was not saved")); err != nil {
				return err
			}
		case errors.Is(err, core.ErrConnClosed):
			return err
		default:
			log.Warn().Err(err).Msg("command failed")
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Connection, log zerolog.Logger) error {
	for {
		select {
		case ev := <-client.Events():
			out, err := proto.Outbound(ev)
			if err != nil {
				log.Error().Err(err).Msg("encode event")
				continue
			}
			if err := wsjson.Write(ctx, conn, out); err != nil {
				return err
			}
		case <-client.Done():
			return errEvicted
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
