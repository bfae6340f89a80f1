package watermark

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"repowatch/internal/storage"
)

// ErrPersist marks a watermark that could not be written durably.
var ErrPersist = errors.New("persist watermark")

// Store serializes watermark access per repository on top of a storage.Store.
type Store struct {
	backend storage.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(backend storage.Store) *Store {
	return &Store{backend: backend, locks: map[string]*sync.Mutex{}}
}

// Lock enters the critical section for repo and returns its release func.
// Discovery cycles hold it from Get until Set so overlapping cycles for the
// same repository cannot lose updates.
func (s *Store) Lock(repo string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[repo]
	if !ok {
		l = &sync.Mutex{}
		s.locks[repo] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Get returns the last persisted watermark for repo, or 0 if none exists.
func (s *Store) Get(ctx context.Context, repo string) (int64, error) {
	rev, ok, err := s.backend.GetWatermark(ctx, repo)
	if err != nil {
		return 0, fmt.Errorf("read watermark %s: %w", repo, err)
	}
	if !ok {
		return 0, nil
	}
	return rev, nil
}

// Set durably records rev for repo. A rev that does not exceed the stored
// watermark is ignored, so watermarks never move backwards. It reports
// whether anything was written.
func (s *Store) Set(ctx context.Context, repo string, rev int64) (bool, error) {
	cur, ok, err := s.backend.GetWatermark(ctx, repo)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrPersist, repo, err)
	}
	if ok && rev <= cur {
		return false, nil
	}
	if err := s.backend.PutWatermark(ctx, repo, rev); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrPersist, repo, err)
	}
	return true, nil
}
