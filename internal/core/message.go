package core

import "time"

// Status is the delivery status of a chat message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Envelope is a chat message accepted from a client but not yet persisted.
// Nonce is the temporary id shown to clients until the finalized event arrives.
type Envelope struct {
	ChannelID   int64
	AuthorID    int64
	Username    string
	Body        string
	Nonce       string
	SubmittedAt time.Time
	Status      Status
}

// PersistedMessage is the durable record produced from exactly one Envelope.
type PersistedMessage struct {
	ID        int64
	ChannelID int64
	AuthorID  int64
	Username  string
	Body      string
	Nonce     string
	CreatedAt time.Time
	Status    Status
}

// Identity is an authenticated user as seen by the core.
type Identity struct {
	UserID   int64
	Username string
}
