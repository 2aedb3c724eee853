package core

import "context"

// Subscription is a live feed of events published to one channel.
type Subscription interface {
	// Events yields events published after the subscription was created.
	// The channel is closed when the subscription ends.
	Events() <-chan Event
	Close() error
}

// Backplane carries channel events between every running instance.
type Backplane interface {
	Publish(ctx context.Context, channelID int64, ev Event) error
	Subscribe(ctx context.Context, channelID int64) (Subscription, error)
	Close() error
}

// Producer submits envelopes to the durable ingest queue.
type Producer interface {
	Submit(ctx context.Context, env *Envelope) error
}

// PresenceTracker answers who is online across all instances.
type PresenceTracker interface {
	MarkOnline(ctx context.Context, userID int64) error
	MarkOffline(ctx context.Context, userID int64) error
	Heartbeat(ctx context.Context, userID int64) error
	ListOnline(ctx context.Context) ([]int64, error)
	IsOnline(ctx context.Context, userID int64) (bool, error)
	Count(ctx context.Context) (int, error)
}

// ReceiptStore persists read receipts after checking channel ownership.
type ReceiptStore interface {
	// MarkRead returns ErrMessageNotFound if messageID is not in channelID.
	MarkRead(ctx context.Context, channelID, messageID int64) error
}

// MessageStore is the durable storage collaborator.
type MessageStore interface {
	ReceiptStore

	// SaveMessage persists env and returns the stored record. Saving the same
	// (channel, nonce) twice returns the record created the first time.
	SaveMessage(ctx context.Context, env *Envelope) (*PersistedMessage, error)
}

// Authenticator turns a bearer credential into an identity or ErrAuthRejected.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}

// MembershipChecker decides whether a user may attach to a channel.
type MembershipChecker interface {
	CanJoin(ctx context.Context, userID, channelID int64) (bool, error)
}

// AllowAll admits every user to every channel.
type AllowAll struct{}

func (AllowAll) CanJoin(context.Context, int64, int64) (bool, error) { return true, nil }
