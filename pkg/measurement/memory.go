package measurement

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore holds measurements in a sorted slice.
// It is safe for concurrent use by multiple goroutines.
//
// Timestamps are unique: upserting a measurement with an existing timestamp
// replaces the stored one. Reads return copies, so callers get an immutable
// snapshot even while a refresh is writing.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []Measurement
}

// NewMemoryStore creates a store seeded with ms.
func NewMemoryStore(ms ...Measurement) *MemoryStore {
	s := &MemoryStore{}
	s.Upsert(ms...)
	return s
}

// Upsert inserts or replaces measurements keyed by timestamp.
func (s *MemoryStore) Upsert(ms ...Measurement) {
	if len(ms) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range ms {
		m.Timestamp = m.Timestamp.UTC()
		i := sort.Search(len(s.rows), func(i int) bool {
			return !s.rows[i].Timestamp.Before(m.Timestamp)
		})
		if i < len(s.rows) && s.rows[i].Timestamp.Equal(m.Timestamp) {
			s.rows[i] = m
			continue
		}
		s.rows = append(s.rows, Measurement{})
		copy(s.rows[i+1:], s.rows[i:])
		s.rows[i] = m
	}
}

// Read implements Store.
func (s *MemoryStore) Read(ctx context.Context, start, end time.Time) ([]Measurement, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := sort.Search(len(s.rows), func(i int) bool {
		return !s.rows[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(s.rows), func(i int) bool {
		return s.rows[i].Timestamp.After(end)
	})
	if lo >= hi {
		return []Measurement{}, nil
	}

	out := make([]Measurement, hi-lo)
	copy(out, s.rows[lo:hi])
	return out, nil
}

// ReadLatest implements Store.
func (s *MemoryStore) ReadLatest(ctx context.Context, n int) ([]Measurement, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return []Measurement{}, nil
	}
	if n > len(s.rows) {
		n = len(s.rows)
	}

	out := make([]Measurement, n)
	copy(out, s.rows[len(s.rows)-n:])
	return out, nil
}

// Len returns the number of stored measurements.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
