package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/profile"
)

var profilesBucket = []byte("user_profiles")

// Store implements the profile.Store interface using a BoltDB database.
// Profiles are stored as JSON values keyed by user id.
type Store struct {
	db *bolt.DB
}

// NewStore creates a Store over an existing BoltDB handle.
func NewStore(db *bolt.DB) *Store {
	store := &Store{
		db: db,
	}

	log.Debug("Initialized BoltDB profile store adapter",
		"db_path", db.Path(),
		"read_only", db.IsReadOnly(),
	)

	return store
}

// Open opens (creating if necessary) the BoltDB file at path and
// initializes the profiles bucket.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for BoltDB: %w", err)
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB database: %w", err)
	}

	store := NewStore(db)
	if err := store.Initialize(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Initialize creates the required bucket if it doesn't exist.
// This is called internally by Open, but can be called explicitly when
// wrapping an existing handle with NewStore.
func (s *Store) Initialize(ctx context.Context) error {
	log.DebugContext(ctx, "Initializing BoltDB profile bucket")

	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(profilesBucket)
		return err
	})

	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize BoltDB profile bucket", "error", err)
		return err
	}
	return nil
}

// Get implements the profile.Store interface.
func (s *Store) Get(ctx context.Context, userID string) (profile.UserProfile, error) {
	var p profile.UserProfile

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(profilesBucket)
		if bucket == nil {
			return errors.Wrap(errors.ErrNotFound, "profile %s", userID)
		}

		data := bucket.Get([]byte(userID))
		if data == nil {
			return errors.Wrap(errors.ErrNotFound, "profile %s", userID)
		}

		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("failed to unmarshal profile: %w", err)
		}
		return nil
	})

	if err != nil {
		return profile.UserProfile{}, err
	}
	return p, nil
}

// Put implements the profile.Store interface.
func (s *Store) Put(ctx context.Context, p profile.UserProfile) error {
	if p.UserID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "profile requires a user id")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(profilesBucket)
		if err != nil {
			return fmt.Errorf("failed to create profiles bucket: %w", err)
		}

		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal profile: %w", err)
		}

		return bucket.Put([]byte(p.UserID), data)
	})

	if err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	return nil
}
