package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	audit "phigate/pkg/platform/audit"
)

// InMemoryStore keeps events for the process lifetime, sorted by
// (Timestamp, Seq).
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
	ids    map[string]struct{}
	seq    int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{ids: make(map[string]struct{})}
}

// Append inserts event after every stored event with an equal or earlier
// timestamp. Re-appending a known EventID is a no-op.
func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[event.EventID]; ok {
		return nil
	}
	s.seq++
	event.Seq = s.seq
	i := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].Timestamp.After(event.Timestamp)
	})
	s.events = slices.Insert(s.events, i, event)
	s.ids[event.EventID] = struct{}{}
	return nil
}

func (s *InMemoryStore) List(_ context.Context, filter audit.Filter, after audit.Cursor, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].Cursor().After(after)
	})
	var out []audit.Event
	for _, event := range s.events[start:] {
		if !filter.Matches(event) {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of stored events.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
