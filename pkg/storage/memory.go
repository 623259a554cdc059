package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryStore implements an in-memory store for report snapshots.
// It is safe for concurrent use by multiple goroutines.
//
// MemoryStore keeps the latest snapshot per kind and key. If TTL is
// configured, a background goroutine removes snapshots whose GeneratedAt is
// older than the TTL. Use RedisStore when several instances share results.
type MemoryStore struct {
	mu            sync.RWMutex
	snapshots     map[string]Snapshot
	ttl           time.Duration
	clock         clockwork.Clock
	cleanupTicker clockwork.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopped       bool
	stopMu        sync.Mutex
}

// NewMemoryStore creates a new in-memory snapshot store with no TTL.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]Snapshot),
		clock:     clockwork.NewRealClock(),
	}
}

// NewMemoryStoreWithTTL creates a store that drops snapshots older than ttl,
// checking every cleanupInterval (default one minute). Stop must be called
// to release the cleanup goroutine.
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	return NewMemoryStoreWithClock(ttl, cleanupInterval, clockwork.NewRealClock())
}

// NewMemoryStoreWithClock is NewMemoryStoreWithTTL with an explicit clock.
func NewMemoryStoreWithClock(ttl, cleanupInterval time.Duration, clock clockwork.Clock) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	store := &MemoryStore{
		snapshots:     make(map[string]Snapshot),
		ttl:           ttl,
		clock:         clock,
		cleanupTicker: clock.NewTicker(cleanupInterval),
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}

	go store.runCleanup()

	return store
}

// Stop shuts down the cleanup goroutine and blocks until it exits.
// Calling Stop more than once, or on a store without TTL, does nothing.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}

	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopped {
		return
	}

	close(s.stopCleanup)
	<-s.cleanupDone
	s.cleanupTicker.Stop()
	s.stopped = true
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.cleanupTicker.Chan():
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes snapshots older than the TTL.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl == 0 {
		return
	}

	now := s.clock.Now()
	for k, snapshot := range s.snapshots {
		if now.Sub(snapshot.GeneratedAt) > s.ttl {
			delete(s.snapshots, k)
		}
	}
}

// Put stores a snapshot, replacing any existing one with the same kind and key.
func (s *MemoryStore) Put(ctx context.Context, snapshot Snapshot) error {
	if err := validate(snapshot.Kind, snapshot.Key); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[mapKey(snapshot.Kind, snapshot.Key)] = snapshot
	return nil
}

// GetLatest retrieves the snapshot stored under kind and key. found is
// false when there is none.
func (s *MemoryStore) GetLatest(ctx context.Context, kind Kind, key string) (Snapshot, bool, error) {
	select {
	case <-ctx.Done():
		return Snapshot{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, found := s.snapshots[mapKey(kind, key)]
	return snapshot, found, nil
}

// Len returns the number of snapshots currently stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Delete removes a snapshot and reports whether one existed.
func (s *MemoryStore) Delete(kind Kind, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := mapKey(kind, key)
	_, existed := s.snapshots[k]
	delete(s.snapshots, k)
	return existed
}
