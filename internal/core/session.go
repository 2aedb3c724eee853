package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// SessionState is the lifecycle state of a channel session.
type SessionState int32

const (
	SessionConnecting SessionState = iota
	SessionOnline
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionOnline:
		return "online"
	case SessionClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

const closeTimeout = 5 * time.Second

// Session drives one connection through connecting, online and closed.
type Session struct {
	hub  *Hub
	conn *Connection
	log  zerolog.Logger

	state     atomic.Int32
	seq       atomic.Uint64
	closeOnce sync.Once
}

// NewSession binds conn to the hub. The session starts in SessionConnecting.
func (h *Hub) NewSession(conn *Connection) *Session {
	return &Session{
		hub:  h,
		conn: conn,
		log: h.log.With().
			Str("conn_id", conn.ID).
			Int64("channel_id", conn.ChannelID).
			Int64("user_id", conn.UserID).
			Logger(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Conn returns the session's connection.
func (s *Session) Conn() *Connection {
	return s.conn
}

// Open registers the connection, attaches the channel feed, marks the user
// online and announces it to the channel.
func (s *Session) Open(ctx context.Context) error {
	h := s.hub
	c := s.conn

	h.registry.Register(c.ChannelID, c)
	if err := h.acquireFeed(c.ChannelID); err != nil {
		h.registry.Unregister(c.ChannelID, c)
		s.state.Store(int32(SessionClosed))
		c.Close()
		return err
	}
	s.state.Store(int32(SessionOnline))
	h.metrics.ConnectionOpened()

	if err := h.presence.MarkOnline(ctx, c.UserID); err != nil {
		s.log.Warn().Err(err).Msg("mark online failed")
	}

	online, err := h.presence.ListOnline(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("list online failed")
	} else {
		snapshot := &PresenceSnapshotEvent{ChannelID: c.ChannelID, OnlineUsers: online}
		if err := c.Send(ctx, snapshot); err != nil {
			s.log.Debug().Err(err).Msg("send presence snapshot failed")
		}
	}

	if err := h.Publish(ctx, &PresenceEvent{
		ChannelID: c.ChannelID,
		UserID:    c.UserID,
		Username:  c.Username,
		Status:    PresenceOnline,
	}); err != nil {
		s.log.Warn().Err(err).Msg("announce online failed")
	}

	s.log.Info().Msg("session online")
	return nil
}

// Dispatch executes one client command. Errors never end the session:
// ErrMalformedFrame and ErrMessageNotFound mean the frame was dropped,
// ErrQueueUnavailable means the optimistic echo went out but the message
// will not be persisted.
func (s *Session) Dispatch(ctx context.Context, cmd *Command) error {
	if s.State() != SessionOnline {
		return fmt.Errorf("session %s: %w", s.State(), ErrConnClosed)
	}

	switch cmd.Kind {
	case CommandSendMessage:
		return s.sendMessage(ctx, cmd.Content)
	case CommandMarkRead:
		return s.markRead(ctx, cmd.MessageID)
	case CommandHeartbeat:
		return s.hub.presence.Heartbeat(ctx, s.conn.UserID)
	default:
		s.hub.metrics.FrameDropped("unknown_command")
		return fmt.Errorf("command kind %d: %w", cmd.Kind, ErrMalformedFrame)
	}
}

func (s *Session) sendMessage(ctx context.Context, content string) error {
	h := s.hub
	c := s.conn

	if content == "" {
		h.metrics.FrameDropped("empty_message")
		return fmt.Errorf("empty message: %w", ErrMalformedFrame)
	}

	status := StatusSent
	if h.registry.HasOtherUser(c.ChannelID, c.UserID) {
		status = StatusDelivered
	}
	env := &Envelope{
		ChannelID:   c.ChannelID,
		AuthorID:    c.UserID,
		Username:    c.Username,
		Body:        content,
		Nonce:       TempID(c.ID, s.seq.Add(1), content),
		SubmittedAt: h.now().UTC(),
		Status:      status,
	}

	if err := h.Publish(ctx, OptimisticEvent(env)); err != nil {
		s.log.Warn().Err(err).Str("temp_id", env.Nonce).Msg("optimistic publish failed")
	}

	err := h.producer.Submit(ctx, env)
	h.metrics.Submitted(err)
	if err != nil {
		return fmt.Errorf("submit %s: %w", env.Nonce, err)
	}
	return nil
}

func (s *Session) markRead(ctx context.Context, messageID int64) error {
	h := s.hub
	c := s.conn

	if messageID <= 0 {
		h.metrics.FrameDropped("bad_message_id")
		return fmt.Errorf("message id %d: %w", messageID, ErrMalformedFrame)
	}
	if h.receipts != nil {
		if err := h.receipts.MarkRead(ctx, c.ChannelID, messageID); err != nil {
			if errors.Is(err, ErrMessageNotFound) {
				h.metrics.FrameDropped("unknown_message")
			}
			return fmt.Errorf("mark read %d: %w", messageID, err)
		}
	}

	return h.Publish(ctx, &StatusUpdateEvent{
		ChannelID: c.ChannelID,
		MessageID: messageID,
		Status:    StatusRead,
	})
}

// Close unregisters the connection and, if the user has no other local
// connection, marks them offline and announces it. Safe to call more than once.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		wasOnline := s.State() == SessionOnline
		s.state.Store(int32(SessionClosed))
		if !wasOnline {
			return
		}

		h := s.hub
		c := s.conn
		c.Close()
		h.registry.Unregister(c.ChannelID, c)
		h.releaseFeed(c.ChannelID)
		h.metrics.ConnectionClosed()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()

		if h.registry.IsUserConnectedAnywhere(c.UserID) {
			s.log.Info().Msg("session closed, user still connected elsewhere")
			return
		}
		if err := h.presence.MarkOffline(ctx, c.UserID); err != nil {
			s.log.Warn().Err(err).Msg("mark offline failed")
		}
		if err := h.Publish(ctx, &PresenceEvent{
			ChannelID: c.ChannelID,
			UserID:    c.UserID,
			Username:  c.Username,
			Status:    PresenceOffline,
		}); err != nil {
			s.log.Warn().Err(err).Msg("announce offline failed")
		}
		s.log.Info().Msg("session closed")
	})
}
