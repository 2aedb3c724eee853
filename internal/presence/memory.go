package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps presence in process memory. It is only shared between
// handlers of one instance.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[int64]time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[int64]time.Time)}
}

func (s *MemoryStore) Touch(_ context.Context, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[userID] = at
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, userID)
	return nil
}

func (s *MemoryStore) Prune(_ context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.seen {
		if at.Before(cutoff) {
			delete(s.seen, id)
		}
	}
	return nil
}

func (s *MemoryStore) Members(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.seen))
	for id := range s.seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) LastSeen(_ context.Context, userID int64) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.seen[userID]
	return at, ok, nil
}
