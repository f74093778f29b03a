package volatile

import (
	"context"
	"sync"

	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/profile"
)

// Store is an in-memory implementation of profile.Store, used in tests
// and when no durable profile backend is configured.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]profile.UserProfile
}

// NewStore creates an empty volatile profile store.
func NewStore() *Store {
	return &Store{
		profiles: make(map[string]profile.UserProfile),
	}
}

// Get implements the profile.Store interface.
func (s *Store) Get(ctx context.Context, userID string) (profile.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return profile.UserProfile{}, errors.Wrap(errors.ErrNotFound, "profile %s", userID)
	}
	return p, nil
}

// Put implements the profile.Store interface.
func (s *Store) Put(ctx context.Context, p profile.UserProfile) error {
	if p.UserID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "profile requires a user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}
