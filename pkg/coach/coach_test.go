package coach

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/coachmem/pkg/clock"
	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/memory"
	memoryVolatile "github.com/lexlapax/coachmem/pkg/memory/adapters/volatile"
	"github.com/lexlapax/coachmem/pkg/policy"
	"github.com/lexlapax/coachmem/pkg/profile"
	profileVolatile "github.com/lexlapax/coachmem/pkg/profile/adapters/volatile"
	reasoningMock "github.com/lexlapax/coachmem/pkg/reasoning/adapters/mock"
	"github.com/lexlapax/coachmem/pkg/search"
	searchMock "github.com/lexlapax/coachmem/pkg/search/adapters/mock"
)

type coachFixture struct {
	coach     *Coach
	memories  *memoryVolatile.Store
	profiles  *profileVolatile.Store
	index     *searchMock.Index
	engine    *reasoningMock.MockEngine
	retriever *search.HybridRetriever
	clk       *clock.Fake
	ctx       context.Context
}

func setupCoachTest(t *testing.T, engineOpts ...reasoningMock.MockOption) *coachFixture {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	memories := memoryVolatile.NewStore(memoryVolatile.WithClock(clk))
	profiles := profileVolatile.NewStore()
	index := searchMock.NewIndex()
	engine := reasoningMock.NewMockEngine(engineOpts...)

	retriever, err := search.NewHybridRetriever(index, search.HybridConfig{UserWeight: 0.7})
	require.NoError(t, err)

	c, err := New(memories, profiles, retriever, engine, policy.New(3), WithClock(clk))
	require.NoError(t, err)

	return &coachFixture{
		coach:     c,
		memories:  memories,
		profiles:  profiles,
		index:     index,
		engine:    engine,
		retriever: retriever,
		clk:       clk,
		ctx:       context.Background(),
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	f := setupCoachTest(t)

	_, err := New(nil, f.profiles, f.retriever, f.engine, policy.New(3))
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = New(f.memories, f.profiles, nil, f.engine, policy.New(3))
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestProcessQuery_Validation(t *testing.T) {
	f := setupCoachTest(t)

	_, err := f.coach.ProcessQuery(f.ctx, "", "a question")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = f.coach.ProcessQuery(f.ctx, "user-1", "   ")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestProcessQuery_NewUser(t *testing.T) {
	f := setupCoachTest(t)
	f.engine.AddResponse("dinner", "Try a simple pasta.")

	response, err := f.coach.ProcessQuery(f.ctx, "user-1", "what should I make for dinner?")
	require.NoError(t, err)

	assert.Equal(t, "Try a simple pasta.", response.Answer)
	assert.False(t, response.Personalized)
	assert.Empty(t, response.MemoryTypesUsed)
	// Base score only: no memories, no sources
	assert.InDelta(t, 0.5, response.Confidence, 1e-9)

	// Write-back created a profile with one session
	p, err := f.profiles.Get(f.ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.TotalSessions)
	assert.True(t, p.LastActive.Equal(f.clk.Now()))
}

func TestProcessQuery_PersonalizedWithMemories(t *testing.T) {
	f := setupCoachTest(t)

	// Seed memories the policy will find for this query
	_, err := f.memories.StoreEpisodic(f.ctx, memory.EpisodicMemory{
		UserID:    "user-1",
		EventType: memory.EventConversation,
		Content:   "Talked about fractions yesterday",
	})
	require.NoError(t, err)
	_, err = f.memories.StoreSemantic(f.ctx, memory.SemanticMemory{
		Concept:    "mathematics",
		Confidence: 0.8,
		Knowledge:  map[string]interface{}{"description": "core subject"},
	})
	require.NoError(t, err)
	_, err = f.memories.StoreProcedural(f.ctx, memory.ProceduralMemory{
		Skill: "problem_solving",
		Steps: []memory.Step{{Step: 1, Action: "understand", Description: "read carefully"}},
	})
	require.NoError(t, err)

	// "mathematics" triggers the semantic concept, "solve" the skill
	response, err := f.coach.ProcessQuery(f.ctx, "user-1", "help me solve this mathematics problem")
	require.NoError(t, err)

	assert.True(t, response.Personalized)
	assert.Equal(t, []string{"episodic", "semantic", "procedural"}, response.MemoryTypesUsed)
	// Base 0.5 + 3 memory kinds x 0.1, no document sources
	assert.InDelta(t, 0.8, response.Confidence, 1e-9)
}

func TestProcessQuery_SourcesRaiseConfidence(t *testing.T) {
	f := setupCoachTest(t)

	vec := []float32{0.1, 0.2, 0.3}
	require.NoError(t, f.index.Upsert(f.ctx, f.retriever.GlobalCollection(), "chunk-1", vec,
		search.Payload{SourceID: "handbook.md", Text: "reference text"}))

	response, err := f.coach.ProcessQuery(f.ctx, "user-1", "what does the handbook say?")
	require.NoError(t, err)

	require.Len(t, response.Sources, 1)
	assert.Equal(t, "handbook.md", response.Sources[0].SourceID)
	assert.Equal(t, search.SourceGlobal, response.Sources[0].SourceType)
	// Base 0.5 + source bonus 0.2
	assert.InDelta(t, 0.7, response.Confidence, 1e-9)
	// Sources alone don't make a response personalized
	assert.False(t, response.Personalized)
}

func TestProcessQuery_ConfidenceClampedAtOne(t *testing.T) {
	assert.Equal(t, 1.0, scoreConfidence(
		[]string{"episodic", "semantic", "procedural"},
		[]search.RetrievedSource{{SourceID: "doc"}, {SourceID: "doc2"}, {SourceID: "doc3"}},
	))
}

func TestProcessQuery_EmbeddingFailureSkipsSearch(t *testing.T) {
	f := setupCoachTest(t, reasoningMock.WithEmbeddingError())

	vec := []float32{0.1, 0.2, 0.3}
	require.NoError(t, f.index.Upsert(f.ctx, f.retriever.GlobalCollection(), "chunk-1", vec,
		search.Payload{SourceID: "handbook.md"}))

	response, err := f.coach.ProcessQuery(f.ctx, "user-1", "anything at all")
	require.NoError(t, err)

	// Document search was skipped, but the answer still generated
	assert.Empty(t, response.Sources)
	assert.NotEqual(t, DegradedAnswer, response.Answer)
	assert.Contains(t, response.ReasoningSteps, "embedding unavailable, document search skipped")
}

func TestProcessQuery_GenerationFailureDegrades(t *testing.T) {
	f := setupCoachTest(t, reasoningMock.WithGenerateError())

	response, err := f.coach.ProcessQuery(f.ctx, "user-1", "a doomed question")
	require.NoError(t, err)

	assert.Equal(t, DegradedAnswer, response.Answer)
	assert.Equal(t, 0.1, response.Confidence)

	// The failed interaction is still recorded, as unsuccessful
	summary, err := f.memories.MetricsSummary(f.ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalQueries)
	assert.Zero(t, summary.SuccessfulQueries)
}

func TestProcessQuery_WriteBackRecordsConversation(t *testing.T) {
	f := setupCoachTest(t)
	f.engine.AddResponse("piano", "Practice scales daily.")

	_, err := f.coach.ProcessQuery(f.ctx, "user-1", "how do I get better at piano?")
	require.NoError(t, err)

	records, err := f.memories.RetrieveEpisodic(f.ctx, memory.EpisodicQuery{
		UserID:    "user-1",
		EventType: memory.EventConversation,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Content, "User: how do I get better at piano?")
	assert.Contains(t, records[0].Content, "Assistant: Practice scales daily.")
	assert.Contains(t, records[0].Context, "confidence")
}

func TestProcessQuery_ExistingProfileSessionIncrement(t *testing.T) {
	f := setupCoachTest(t)

	p := profile.New("user-1", f.clk.Now())
	p.TotalSessions = 4
	p.LearningStyle = "visual"
	require.NoError(t, f.profiles.Put(f.ctx, p))

	_, err := f.coach.ProcessQuery(f.ctx, "user-1", "hello coach")
	require.NoError(t, err)

	updated, err := f.profiles.Get(f.ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, updated.TotalSessions)
	assert.Equal(t, "visual", updated.LearningStyle)
}

func TestSeedUserMemories(t *testing.T) {
	f := setupCoachTest(t)

	require.NoError(t, f.coach.SeedUserMemories(f.ctx, "user-1"))

	semantic, err := f.memories.RetrieveSemantic(f.ctx, memory.SemanticQuery{
		Concept: "learning_methodology",
	})
	require.NoError(t, err)
	require.Len(t, semantic, 1)
	assert.Equal(t, 0.8, semantic[0].Confidence)

	procedural, err := f.memories.RetrieveProcedural(f.ctx, memory.ProceduralQuery{
		Skill: "problem_solving",
	})
	require.NoError(t, err)
	require.Len(t, procedural, 1)
	assert.Len(t, procedural[0].Steps, 6)

	episodic, err := f.memories.RetrieveEpisodic(f.ctx, memory.EpisodicQuery{
		UserID:    "user-1",
		EventType: memory.EventLearning,
	})
	require.NoError(t, err)
	assert.Len(t, episodic, 1)
}

func TestIndexer_RoundTrip(t *testing.T) {
	f := setupCoachTest(t)
	indexer := f.coach.NewIndexer()

	count, err := indexer.IndexGlobal(f.ctx, "handbook.md", []string{
		"chapter one text",
		"",
		"chapter two text",
	})
	require.NoError(t, err)
	// Empty chunks are dropped before embedding
	assert.Equal(t, 2, count)

	hits, err := f.index.Search(f.ctx, f.retriever.GlobalCollection(), []float32{0.1, 0.2, 0.3}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Equal(t, "handbook.md", hits[0].Payload.SourceID)

	count, err = indexer.IndexForUser(f.ctx, "user-1", "notes.md", []string{"my note"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	hits, err = f.index.Search(f.ctx, f.retriever.UserCollection("user-1"), []float32{0.1, 0.2, 0.3}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestRunRetention(t *testing.T) {
	f := setupCoachTest(t)

	_, err := f.memories.StoreEpisodic(f.ctx, memory.EpisodicMemory{
		UserID: "user-1", Content: "ancient history",
	})
	require.NoError(t, err)
	require.NoError(t, f.memories.StoreQueryMetric(f.ctx, memory.QueryMetric{Query: "old"}))

	f.clk.Advance(100 * 24 * time.Hour)
	_, err = f.memories.StoreEpisodic(f.ctx, memory.EpisodicMemory{
		UserID: "user-1", Content: "recent note",
	})
	require.NoError(t, err)

	result, err := f.coach.RunRetention(f.ctx, 90, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.EpisodicRemoved)
	assert.Equal(t, int64(1), result.MetricsRemoved)

	remaining, err := f.memories.RetrieveEpisodic(f.ctx, memory.EpisodicQuery{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "recent note", remaining[0].Content)
}

func TestMetricsSummary_Supported(t *testing.T) {
	f := setupCoachTest(t)

	_, err := f.coach.ProcessQuery(f.ctx, "user-1", "any question")
	require.NoError(t, err)

	summary, supported, err := f.coach.MetricsSummary(f.ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, supported)
	assert.Equal(t, 1, summary.TotalQueries)
}
