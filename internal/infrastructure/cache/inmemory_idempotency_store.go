package cache

import (
	"context"
	"sync"
	"time"

	"github.com/distflow/backend/internal/domain/shared"
)

// InMemoryIdempotencyStore keeps processed command keys in process memory.
// Suitable for tests and single-instance deployments only: two API instances
// with separate stores will both accept the same reservation key.
type InMemoryIdempotencyStore struct {
	mu        sync.RWMutex
	processed map[string]time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	s := &InMemoryIdempotencyStore{
		processed: make(map[string]time.Time),
		stopChan:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if expiry, exists := s.processed[key]; exists && now.Before(expiry) {
		return false, nil
	}

	s.processed[key] = now.Add(ttl)
	return true, nil
}

func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiry, exists := s.processed[key]
	return exists && time.Now().Before(expiry), nil
}

func (s *InMemoryIdempotencyStore) Unmark(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.processed, key)
	return nil
}

func (s *InMemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

// cleanupLoop evicts expired keys every 5 minutes so the map does not grow
// without bound under a steady stream of one-shot keys.
func (s *InMemoryIdempotencyStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopChan:
			return
		}
	}
}

func (s *InMemoryIdempotencyStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, expiry := range s.processed {
		if now.After(expiry) {
			delete(s.processed, key)
		}
	}
}

// Size reports the number of tracked keys, including not-yet-evicted expired
// ones. Test helper.
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processed)
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
