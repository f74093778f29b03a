package volatile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/coachmem/pkg/clock"
	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/memory"
)

func setupStoreTest(t *testing.T) (*Store, *clock.Fake, context.Context) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := NewStore(WithClock(clk))
	return store, clk, context.Background()
}

func TestStoreEpisodic_RequiresUserID(t *testing.T) {
	store, _, ctx := setupStoreTest(t)

	_, err := store.StoreEpisodic(ctx, memory.EpisodicMemory{Content: "orphan"})

	assert.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestRetrieveEpisodic_NewestFirst(t *testing.T) {
	store, clk, ctx := setupStoreTest(t)

	for i := 0; i < 3; i++ {
		_, err := store.StoreEpisodic(ctx, memory.EpisodicMemory{
			UserID:    "user-1",
			EventType: memory.EventConversation,
			Content:   fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}

	results, err := store.RetrieveEpisodic(ctx, memory.EpisodicQuery{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "message 2", results[0].Content)
	assert.Equal(t, "message 1", results[1].Content)
	assert.Equal(t, "message 0", results[2].Content)
}

func TestRetrieveEpisodic_Filters(t *testing.T) {
	store, _, ctx := setupStoreTest(t)

	seed := []memory.EpisodicMemory{
		{UserID: "user-1", EventType: memory.EventConversation, Content: "Discussed fractions"},
		{UserID: "user-1", EventType: memory.EventLearning, Content: "Practiced long division"},
		{UserID: "user-2", EventType: memory.EventConversation, Content: "Discussed fractions"},
	}
	for _, m := range seed {
		_, err := store.StoreEpisodic(ctx, m)
		require.NoError(t, err)
	}

	// Event type filter
	results, err := store.RetrieveEpisodic(ctx, memory.EpisodicQuery{
		UserID:    "user-1",
		EventType: memory.EventLearning,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Practiced long division", results[0].Content)

	// Case-insensitive substring filter
	results, err = store.RetrieveEpisodic(ctx, memory.EpisodicQuery{
		UserID: "user-1",
		Text:   "FRACTIONS",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Discussed fractions", results[0].Content)

	// User isolation
	results, err = store.RetrieveEpisodic(ctx, memory.EpisodicQuery{UserID: "user-3"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveEpisodic_Limit(t *testing.T) {
	store, clk, ctx := setupStoreTest(t)

	for i := 0; i < 15; i++ {
		_, err := store.StoreEpisodic(ctx, memory.EpisodicMemory{
			UserID:  "user-1",
			Content: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	// Default limit applies when unset
	results, err := store.RetrieveEpisodic(ctx, memory.EpisodicQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, results, defaultLimit)

	// Explicit limit truncates after filtering
	results, err = store.RetrieveEpisodic(ctx, memory.EpisodicQuery{UserID: "user-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "message 14", results[0].Content)
}

func TestStoreSemantic_UpsertLatestWins(t *testing.T) {
	store, _, ctx := setupStoreTest(t)

	_, err := store.StoreSemantic(ctx, memory.SemanticMemory{
		Concept:    "algebra",
		Confidence: 0.4,
		Knowledge:  map[string]interface{}{"description": "first draft"},
	})
	require.NoError(t, err)

	_, err = store.StoreSemantic(ctx, memory.SemanticMemory{
		Concept:    "algebra",
		Confidence: 0.9,
		Knowledge:  map[string]interface{}{"description": "revised"},
	})
	require.NoError(t, err)

	results, err := store.RetrieveSemantic(ctx, memory.SemanticQuery{Concept: "algebra"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.9, results[0].Confidence)
	assert.Equal(t, "revised", results[0].Knowledge["description"])
}

func TestStoreSemantic_ClampsConfidence(t *testing.T) {
	store, _, ctx := setupStoreTest(t)

	_, err := store.StoreSemantic(ctx, memory.SemanticMemory{Concept: "geometry", Confidence: 1.8})
	require.NoError(t, err)

	results, err := store.RetrieveSemantic(ctx, memory.SemanticQuery{Concept: "geometry"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Confidence)
}

func TestRetrieveSemantic_RelationshipsOrSemantics(t *testing.T) {
	store, _, ctx := setupStoreTest(t)

	seed := []memory.SemanticMemory{
		{Concept: "study_habits", Relationships: []string{"education", "study_skills"}, Confidence: 0.7},
		{Concept: "spaced_repetition", Relationships: []string{"study_skills"}, Confidence: 0.9},
		{Concept: "nutrition", Relationships: []string{"health"}, Confidence: 0.5},
	}
	for _, m := range seed {
		_, err := store.StoreSemantic(ctx, m)
		require.NoError(t, err)
	}

	// One shared tag is enough; ordered by confidence descending
	results, err := store.RetrieveSemantic(ctx, memory.SemanticQuery{
		Relationships: []string{"study_skills", "unknown_tag"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "spaced_repetition", results[0].Concept)
	assert.Equal(t, "study_habits", results[1].Concept)

	// Unknown concept lookup is empty, not an error
	results, err = store.RetrieveSemantic(ctx, memory.SemanticQuery{Concept: "calculus"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveProcedural_PrerequisitesAndSemantics(t *testing.T) {
	store, _, ctx := setupStoreTest(t)

	seed := []memory.ProceduralMemory{
		{Skill: "essay_writing", Prerequisites: []string{"outlining", "grammar"}},
		{Skill: "summarizing", Prerequisites: []string{"outlining"}},
	}
	for _, m := range seed {
		_, err := store.StoreProcedural(ctx, m)
		require.NoError(t, err)
	}

	// Every queried prerequisite must be on the record, unlike the
	// any-match used for semantic relationships
	results, err := store.RetrieveProcedural(ctx, memory.ProceduralQuery{
		Prerequisites: []string{"outlining", "grammar"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "essay_writing", results[0].Skill)

	results, err = store.RetrieveProcedural(ctx, memory.ProceduralQuery{
		Prerequisites: []string{"outlining"},
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestStoreProcedural_UpsertBySkill(t *testing.T) {
	store, _, ctx := setupStoreTest(t)

	_, err := store.StoreProcedural(ctx, memory.ProceduralMemory{
		Skill: "note_taking",
		Steps: []memory.Step{{Step: 1, Action: "listen", Description: "capture key points"}},
	})
	require.NoError(t, err)

	_, err = store.StoreProcedural(ctx, memory.ProceduralMemory{
		Skill: "note_taking",
		Steps: []memory.Step{
			{Step: 1, Action: "listen", Description: "capture key points"},
			{Step: 2, Action: "review", Description: "revisit within a day"},
		},
	})
	require.NoError(t, err)

	results, err := store.RetrieveProcedural(ctx, memory.ProceduralQuery{Skill: "note_taking"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, results[0].Steps, 2)
}

func TestGetStats(t *testing.T) {
	store, _, ctx := setupStoreTest(t)

	_, err := store.StoreEpisodic(ctx, memory.EpisodicMemory{UserID: "user-1", Content: "a"})
	require.NoError(t, err)
	_, err = store.StoreEpisodic(ctx, memory.EpisodicMemory{UserID: "user-1", Content: "b"})
	require.NoError(t, err)
	_, err = store.StoreEpisodic(ctx, memory.EpisodicMemory{UserID: "user-2", Content: "c"})
	require.NoError(t, err)
	_, err = store.StoreSemantic(ctx, memory.SemanticMemory{Concept: "algebra"})
	require.NoError(t, err)
	_, err = store.StoreProcedural(ctx, memory.ProceduralMemory{Skill: "note_taking"})
	require.NoError(t, err)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Episodic.TotalUsers)
	assert.Equal(t, 3, stats.Episodic.TotalMemories)
	assert.Equal(t, 1, stats.Semantic.TotalConcepts)
	assert.Equal(t, 1, stats.Procedural.TotalSkills)
}

func TestCleanupEpisodic_CutoffIsExclusive(t *testing.T) {
	store, clk, ctx := setupStoreTest(t)

	old := clk.Now()
	_, err := store.StoreEpisodic(ctx, memory.EpisodicMemory{UserID: "user-1", Content: "stale"})
	require.NoError(t, err)

	clk.Advance(48 * time.Hour)
	cutoff := clk.Now()
	_, err = store.StoreEpisodic(ctx, memory.EpisodicMemory{UserID: "user-1", Content: "at cutoff"})
	require.NoError(t, err)

	removed, err := store.CleanupEpisodic(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	results, err := store.RetrieveEpisodic(ctx, memory.EpisodicQuery{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "at cutoff", results[0].Content)
	assert.True(t, results[0].Timestamp.After(old))
}

func TestStoreEpisodic_IDsNotReusedAfterCleanup(t *testing.T) {
	store, clk, ctx := setupStoreTest(t)

	firstID, err := store.StoreEpisodic(ctx, memory.EpisodicMemory{
		UserID: "user-1", Content: "doomed",
	})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	removed, err := store.CleanupEpisodic(ctx, clk.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	// Appending after cleanup must not reissue an earlier id
	secondID, err := store.StoreEpisodic(ctx, memory.EpisodicMemory{
		UserID: "user-1", Content: "fresh",
	})
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)
}

func TestMetrics_SummaryAndCleanup(t *testing.T) {
	store, clk, ctx := setupStoreTest(t)

	err := store.StoreQueryMetric(ctx, memory.QueryMetric{
		Query: "old query", Confidence: 0.3, Success: true,
	})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	since := clk.Now()
	err = store.StoreQueryMetric(ctx, memory.QueryMetric{
		Query: "recent query", Confidence: 0.9, Success: true, Personalized: true,
	})
	require.NoError(t, err)

	summary, err := store.MetricsSummary(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalQueries)
	assert.InDelta(t, 0.9, summary.AvgConfidence, 1e-9)
	assert.Equal(t, 1, summary.PersonalizedQueries)

	removed, err := store.CleanupMetrics(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store, _, ctx := setupStoreTest(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", n%3)
			for j := 0; j < 20; j++ {
				_, err := store.StoreEpisodic(ctx, memory.EpisodicMemory{
					UserID:  userID,
					Content: fmt.Sprintf("msg %d-%d", n, j),
				})
				assert.NoError(t, err)
				_, err = store.RetrieveEpisodic(ctx, memory.EpisodicQuery{UserID: userID})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, stats.Episodic.TotalMemories)
}
