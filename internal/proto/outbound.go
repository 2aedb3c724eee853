package proto

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/vovakirdan/ltchat/internal/core"
)

const (
	OutboundTypePresence     = "presence"
	OutboundTypePresenceInit = "presence_init"
	OutboundTypeMessage      = "message"
	OutboundTypeStatusUpdate = "status_update"
	OutboundTypeError        = "error"
)

// EventPresence announces a user coming online or going offline.
type EventPresence struct {
	Type      string `json:"type"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Status    string `json:"status"`
	ChannelID int64  `json:"channel_id"`
}

// EventPresenceInit lists online users to a freshly connected client.
type EventPresenceInit struct {
	Type        string  `json:"type"`
	OnlineUsers []int64 `json:"online_users"`
	ChannelID   int64   `json:"channel_id"`
}

// EventMessage is a chat message. ID is the temporary string id until the
// message is persisted, then the permanent integer id; TempID always holds
// the temporary one so clients can reconcile.
type EventMessage struct {
	Type      string          `json:"type"`
	ID        json.RawMessage `json:"id"`
	TempID    string          `json:"temp_id,omitempty"`
	Content   string          `json:"content"`
	UserID    int64           `json:"user_id"`
	Username  string          `json:"username"`
	ChannelID int64           `json:"channel_id"`
	CreatedAt string          `json:"created_at"`
	Status    string          `json:"status"`
}

// EventStatusUpdate announces a delivery status change.
type EventStatusUpdate struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	Status    string `json:"status"`
	ChannelID int64  `json:"channel_id"`
}

// Error describes a protocol-level error response.
type Error struct {
	Type string `json:"type"`
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// NewError builds an error frame.
func NewError(code, msg string) Error {
	return Error{Type: OutboundTypeError, Code: code, Msg: msg}
}

// Outbound converts a core event to its wire struct.
func Outbound(ev core.Event) (any, error) {
	switch e := ev.(type) {
	case *core.PresenceEvent:
		return EventPresence{
			Type:      OutboundTypePresence,
			UserID:    e.UserID,
			Username:  e.Username,
			Status:    string(e.Status),
			ChannelID: e.ChannelID,
		}, nil
	case *core.PresenceSnapshotEvent:
		users := e.OnlineUsers
		if users == nil {
			users = []int64{}
		}
		return EventPresenceInit{
			Type:        OutboundTypePresenceInit,
			OnlineUsers: users,
			ChannelID:   e.ChannelID,
		}, nil
	case *core.MessageEvent:
		id := []byte(strconv.Quote(e.TempID))
		if e.Final() {
			id = []byte(strconv.FormatInt(e.ID, 10))
		}
		return EventMessage{
			Type:      OutboundTypeMessage,
			ID:        id,
			TempID:    e.TempID,
			Content:   e.Body,
			UserID:    e.UserID,
			Username:  e.Username,
			ChannelID: e.ChannelID,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
			Status:    string(e.Status),
		}, nil
	case *core.StatusUpdateEvent:
		return EventStatusUpdate{
			Type:      OutboundTypeStatusUpdate,
			MessageID: e.MessageID,
			Status:    string(e.Status),
			ChannelID: e.ChannelID,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
}

// MarshalEvent encodes ev as the JSON object clients receive. The backplane
// carries the same encoding.
func MarshalEvent(ev core.Event) ([]byte, error) {
	out, err := Outbound(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// UnmarshalEvent decodes the output of MarshalEvent.
func UnmarshalEvent(data []byte) (core.Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event type: %w", err)
	}

	switch head.Type {
	case OutboundTypePresence:
		var p EventPresence
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode presence: %w", err)
		}
		return &core.PresenceEvent{
			ChannelID: p.ChannelID,
			UserID:    p.UserID,
			Username:  p.Username,
			Status:    core.PresenceStatus(p.Status),
		}, nil
	case OutboundTypePresenceInit:
		var p EventPresenceInit
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode presence_init: %w", err)
		}
		return &core.PresenceSnapshotEvent{ChannelID: p.ChannelID, OnlineUsers: p.OnlineUsers}, nil
	case OutboundTypeMessage:
		var m EventMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		ev := &core.MessageEvent{
			ChannelID: m.ChannelID,
			TempID:    m.TempID,
			Body:      m.Content,
			UserID:    m.UserID,
			Username:  m.Username,
			Status:    core.Status(m.Status),
		}
		// A numeric id is permanent; a string id is the temporary one.
		if len(m.ID) > 0 && m.ID[0] != '"' {
			id, err := strconv.ParseInt(string(m.ID), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("decode message id: %w", err)
			}
			ev.ID = id
		}
		if m.CreatedAt != "" {
			ts, err := time.Parse(time.RFC3339Nano, m.CreatedAt)
			if err != nil {
				return nil, fmt.Errorf("decode created_at: %w", err)
			}
			ev.CreatedAt = ts
		}
		return ev, nil
	case OutboundTypeStatusUpdate:
		var s EventStatusUpdate
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode status_update: %w", err)
		}
		return &core.StatusUpdateEvent{
			ChannelID: s.ChannelID,
			MessageID: s.MessageID,
			Status:    core.Status(s.Status),
		}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
}
