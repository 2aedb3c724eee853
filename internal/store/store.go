package store

import (
	"context"

	"github.com/vovakirdan/ltchat/internal/core"
)

// MembershipStore handles channel membership.
type MembershipStore interface {
	// AddMember adds a user to a channel. Adding an existing member is a no-op.
	AddMember(ctx context.Context, userID, channelID int64) error

	// RemoveMember removes a user from a channel.
	RemoveMember(ctx context.Context, userID, channelID int64) error

	// IsMember checks if user is a member of the channel.
	IsMember(ctx context.Context, userID, channelID int64) (bool, error)
}

// HistoryStore reads persisted messages back.
type HistoryStore interface {
	// ListMessages returns up to limit messages of a channel, newest first.
	// If beforeID is provided, returns messages older than that ID.
	ListMessages(ctx context.Context, channelID int64, limit int, beforeID *int64) ([]*core.PersistedMessage, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	core.MessageStore
	MembershipStore
	HistoryStore

	// Migrate creates the tables the store needs if they are missing.
	Migrate(ctx context.Context) error

	// Close closes the underlying database connection.
	Close() error
}

// Membership adapts a MembershipStore to core.MembershipChecker.
type Membership struct {
	Store MembershipStore
}

func (m Membership) CanJoin(ctx context.Context, userID, channelID int64) (bool, error) {
	return m.Store.IsMember(ctx, userID, channelID)
}
