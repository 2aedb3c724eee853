package core

import "time"

// Event is a notification the core fans out to every connection of a channel.
// The set of variants is closed: PresenceEvent, MessageEvent, StatusUpdateEvent
// and PresenceSnapshotEvent.
type Event interface {
	// Channel returns the channel the event belongs to.
	Channel() int64
	isEvent()
}

// PresenceStatus tells whether a presence event announces a user coming or going.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceEvent announces that a user came online or went offline in a channel.
type PresenceEvent struct {
	ChannelID int64
	UserID    int64
	Username  string
	Status    PresenceStatus
}

// MessageEvent carries a chat message. Optimistic events have a zero ID and
// identify the message by TempID only; finalized events carry both.
type MessageEvent struct {
	ChannelID int64
	ID        int64
	TempID    string
	Body      string
	UserID    int64
	Username  string
	CreatedAt time.Time
	Status    Status
}

// Final reports whether the event carries a permanent identifier.
func (e *MessageEvent) Final() bool {
	return e.ID != 0
}

// StatusUpdateEvent announces a delivery status change for a persisted message.
type StatusUpdateEvent struct {
	ChannelID int64
	MessageID int64
	Status    Status
}

// PresenceSnapshotEvent lists the users online when a connection joins.
// It is sent to a single connection and never published on the backplane.
type PresenceSnapshotEvent struct {
	ChannelID   int64
	OnlineUsers []int64
}

func (e *PresenceEvent) Channel() int64         { return e.ChannelID }
func (e *MessageEvent) Channel() int64          { return e.ChannelID }
func (e *StatusUpdateEvent) Channel() int64     { return e.ChannelID }
func (e *PresenceSnapshotEvent) Channel() int64 { return e.ChannelID }

func (*PresenceEvent) isEvent()         {}
func (*MessageEvent) isEvent()          {}
func (*StatusUpdateEvent) isEvent()     {}
func (*PresenceSnapshotEvent) isEvent() {}

// OptimisticEvent builds the event shown to the channel before persistence.
func OptimisticEvent(env *Envelope) *MessageEvent {
	return &MessageEvent{
		ChannelID: env.ChannelID,
		TempID:    env.Nonce,
		Body:      env.Body,
		UserID:    env.AuthorID,
		Username:  env.Username,
		CreatedAt: env.SubmittedAt,
		Status:    env.Status,
	}
}

// FinalizedEvent builds the event that reconciles a temporary id with the
// permanent one assigned by storage.
func FinalizedEvent(msg *PersistedMessage) *MessageEvent {
	return &MessageEvent{
		ChannelID: msg.ChannelID,
		ID:        msg.ID,
		TempID:    msg.Nonce,
		Body:      msg.Body,
		UserID:    msg.AuthorID,
		Username:  msg.Username,
		CreatedAt: msg.CreatedAt,
		Status:    msg.Status,
	}
}
