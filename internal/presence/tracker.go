// Package presence implements the shared, time-decaying set of online users.
//
// A user is online while now - lastActivity <= TTL. Expired entries are swept
// lazily whenever the online set is listed, and removed eagerly by MarkOffline.
package presence

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL is how long a user stays online without activity.
const DefaultTTL = 30 * time.Second

// Store keeps the last-activity time of every user. Implementations must
// make Touch and Remove atomic per user; no cross-instance locking is done.
type Store interface {
	Touch(ctx context.Context, userID int64, at time.Time) error
	Remove(ctx context.Context, userID int64) error
	// Prune drops every entry whose last activity is strictly before cutoff.
	Prune(ctx context.Context, cutoff time.Time) error
	Members(ctx context.Context) ([]int64, error)
	LastSeen(ctx context.Context, userID int64) (time.Time, bool, error)
}

// Tracker answers presence queries on top of a Store.
type Tracker struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(t *Tracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker builds a tracker over store.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{store: store, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TTL returns the inactivity window.
func (t *Tracker) TTL() time.Duration {
	return t.ttl
}

// MarkOnline records activity for userID now.
func (t *Tracker) MarkOnline(ctx context.Context, userID int64) error {
	if err := t.store.Touch(ctx, userID, t.now()); err != nil {
		return fmt.Errorf("touch presence %d: %w", userID, err)
	}
	return nil
}

// Heartbeat is MarkOnline for periodic keep-alives.
func (t *Tracker) Heartbeat(ctx context.Context, userID int64) error {
	return t.MarkOnline(ctx, userID)
}

// MarkOffline removes userID immediately.
func (t *Tracker) MarkOffline(ctx context.Context, userID int64) error {
	if err := t.store.Remove(ctx, userID); err != nil {
		return fmt.Errorf("remove presence %d: %w", userID, err)
	}
	return nil
}

// ListOnline sweeps expired entries and returns the users left.
func (t *Tracker) ListOnline(ctx context.Context) ([]int64, error) {
	if err := t.store.Prune(ctx, t.cutoff()); err != nil {
		return nil, fmt.Errorf("prune presence: %w", err)
	}
	users, err := t.store.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	return users, nil
}

// IsOnline applies the TTL rule to a single user without listing the set.
func (t *Tracker) IsOnline(ctx context.Context, userID int64) (bool, error) {
	last, ok, err := t.store.LastSeen(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("read presence %d: %w", userID, err)
	}
	if !ok {
		return false, nil
	}
	return !last.Before(t.cutoff()), nil
}

// Count returns len(ListOnline()).
func (t *Tracker) Count(ctx context.Context) (int, error) {
	users, err := t.ListOnline(ctx)
	if err != nil {
		return 0, err
	}
	return len(users), nil
}

func (t *Tracker) cutoff() time.Time {
	return t.now().Add(-t.ttl)
}
