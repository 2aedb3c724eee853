package core

import "sync"

// Registry tracks the live connections of this process grouped by channel.
// Each channel keeps its connections in registration order.
type Registry struct {
	mu       sync.RWMutex
	channels map[int64][]*Connection
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[int64][]*Connection)}
}

// Register appends conn to the channel's set. Callers must not register the
// same connection twice.
func (r *Registry) Register(channelID int64, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[channelID] = append(r.channels[channelID], conn)
}

// Unregister removes conn from the channel's set. Returns true if it was present.
func (r *Registry) Unregister(channelID int64, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.channels[channelID]
	for i, c := range conns {
		if c != conn {
			continue
		}
		rest := make([]*Connection, 0, len(conns)-1)
		rest = append(rest, conns[:i]...)
		rest = append(rest, conns[i+1:]...)
		if len(rest) == 0 {
			delete(r.channels, channelID)
		} else {
			r.channels[channelID] = rest
		}
		return true
	}
	return false
}

// Snapshot returns a point-in-time copy of the channel's connections.
func (r *Registry) Snapshot(channelID int64) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.channels[channelID]
	out := make([]*Connection, len(conns))
	copy(out, conns)
	return out
}

// IsUserConnectedAnywhere reports whether userID has a live connection in any
// channel of this instance.
func (r *Registry) IsUserConnectedAnywhere(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conns := range r.channels {
		for _, c := range conns {
			if c.UserID == userID {
				return true
			}
		}
	}
	return false
}

// HasOtherUser reports whether a user other than userID is connected to the
// channel. Only connections on this instance count.
func (r *Registry) HasOtherUser(channelID, userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.channels[channelID] {
		if c.UserID != userID && c.Alive() {
			return true
		}
	}
	return false
}

// Len returns the number of connections attached to the channel.
func (r *Registry) Len(channelID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channelID])
}

// Total returns the number of connections across all channels.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conns := range r.channels {
		n += len(conns)
	}
	return n
}
