package volatile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/profile"
)

func TestGet_Missing(t *testing.T) {
	store := NewStore()

	_, err := store.Get(context.Background(), "nobody")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestPut_RequiresUserID(t *testing.T) {
	store := NewStore()

	err := store.Put(context.Background(), profile.UserProfile{})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestPutAndGet(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	p := profile.New("user-1", time.Now().UTC())
	p.LearningGoals = []string{"improve math"}
	require.NoError(t, store.Put(ctx, p))

	loaded, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"improve math"}, loaded.LearningGoals)

	// Put replaces
	loaded.TotalSessions = 5
	require.NoError(t, store.Put(ctx, loaded))
	reloaded, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, reloaded.TotalSessions)
}

func TestConcurrentAccess(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", n)
			p := profile.New(userID, time.Now().UTC())
			assert.NoError(t, store.Put(ctx, p))
			_, err := store.Get(ctx, userID)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}
