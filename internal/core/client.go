package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

const defaultOutboundBuffer = 32

// Connection is one live transport session attached to a channel.
// Events queued with Send are drained by the transport's write loop.
type Connection struct {
	ID        string
	ChannelID int64
	UserID    int64
	Username  string

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection constructs a connection with a bounded outbound buffer.
func NewConnection(channelID int64, who Identity, buffer int) *Connection {
	if buffer <= 0 {
		buffer = defaultOutboundBuffer
	}
	return &Connection{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		UserID:    who.UserID,
		Username:  who.Username,
		events:    make(chan Event, buffer),
		done:      make(chan struct{}),
	}
}

// Events returns the outbound queue the transport writes to the socket.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// Done is closed once the connection is dead.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Alive reports whether the connection still accepts events.
func (c *Connection) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close marks the connection dead. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Send queues an event for the write loop. It fails when the connection is
// dead or the queue stays full until ctx expires.
func (c *Connection) Send(ctx context.Context, ev Event) error {
	if !c.Alive() {
		return fmt.Errorf("%w: %w", ErrTransportSendFailed, ErrConnClosed)
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %w", ErrTransportSendFailed, ErrConnClosed)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTransportSendFailed, ctx.Err())
	}
}
