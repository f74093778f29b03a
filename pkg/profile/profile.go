package profile

import (
	"context"
	"time"
)

// UserProfile holds per-user preferences and learning state. One profile
// exists per user, created lazily on first interaction and keyed by
// user id in every backing store.
type UserProfile struct {
	// UserID is the unique key
	UserID string `json:"user_id"`

	// Preferences is free-form preference data (preferred language,
	// subject focus, difficulty level, ...)
	Preferences map[string]interface{} `json:"preferences"`

	// LearningGoals is the ordered list of the user's current goals
	LearningGoals []string `json:"learning_goals"`

	// LearningStyle is one of visual/auditory/kinesthetic/reading, or
	// empty when unknown
	LearningStyle string `json:"learning_style,omitempty"`

	// TotalSessions counts answered interactions
	TotalSessions int `json:"total_sessions"`

	// CreatedAt is when the profile was first created
	CreatedAt time.Time `json:"created_at"`

	// LastActive is updated on every interaction
	LastActive time.Time `json:"last_active"`
}

// Store is the interface all profile store adapters implement.
type Store interface {
	// Get fetches a profile by user id. A missing profile returns
	// errors.ErrNotFound.
	Get(ctx context.Context, userID string) (UserProfile, error)

	// Put creates or replaces a profile keyed by its UserID.
	Put(ctx context.Context, p UserProfile) error
}

// New creates a fresh profile for a user, stamped with now.
func New(userID string, now time.Time) UserProfile {
	return UserProfile{
		UserID:      userID,
		Preferences: make(map[string]interface{}),
		CreatedAt:   now,
		LastActive:  now,
	}
}
