package genstore

import (
	"context"
	"sync"
	"time"
)

type localGenEntry struct {
	Gen       uint64
	UpdatedAt time.Time
}

// LocalGenStore keeps generations in-process (default).
// With a cleanup interval and retention it prunes resources that have not
// been written for longer than retention; readers then observe gen 0 and
// older cached responses self-heal.
type LocalGenStore struct {
	mu     sync.RWMutex
	gens   map[string]localGenEntry
	now    func() time.Time
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{
		gens: make(map[string]localGenEntry),
		now:  time.Now,
	}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *LocalGenStore) Snapshot(_ context.Context, resource string) (uint64, error) {
	s.mu.RLock()
	e := s.gens[resource]
	s.mu.RUnlock()
	return e.Gen, nil
}

// SnapshotMany reads every resource under one read lock.
func (s *LocalGenStore) SnapshotMany(_ context.Context, resources []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(resources))
	s.mu.RLock()
	for _, r := range resources {
		out[r] = s.gens[r].Gen
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *LocalGenStore) BumpMany(_ context.Context, resources []string) (map[string]uint64, error) {
	now := s.now()
	out := make(map[string]uint64, len(resources))
	s.mu.Lock()
	for _, r := range resources {
		e := s.gens[r]
		e.Gen++
		e.UpdatedAt = now
		s.gens[r] = e
		out[r] = e.Gen
	}
	s.mu.Unlock()
	return out, nil
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)

	s.mu.Lock()
	for r, e := range s.gens {
		if e.UpdatedAt.Before(cutoff) {
			delete(s.gens, r)
		}
	}
	s.mu.Unlock()
}

// Close stops the cleanup loop. Safe to call more than once.
func (s *LocalGenStore) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
	})
	return nil
}
