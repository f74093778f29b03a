// Package coach is the orchestrator that turns a user query into a
// grounded, personalized answer. It runs a single linear pipeline:
// profile load, query embedding, concurrent memory retrieval and hybrid
// document search, generation, then write-back. Every stage before
// generation degrades to empty context on failure; only a generation
// failure degrades the answer itself.
package coach

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lexlapax/coachmem/pkg/clock"
	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/memory"
	"github.com/lexlapax/coachmem/pkg/policy"
	"github.com/lexlapax/coachmem/pkg/profile"
	"github.com/lexlapax/coachmem/pkg/reasoning"
	"github.com/lexlapax/coachmem/pkg/search"
)

// DegradedAnswer is returned when the generation stage fails.
const DegradedAnswer = "I'm having trouble generating a response right now. Please try again in a moment."

// Confidence scoring constants. The score starts at the base and earns
// a bonus per contributing memory kind plus one for retrieved sources,
// clamped to 1.0. A failed generation pins the score to the floor.
const (
	confidenceBase        = 0.5
	confidenceMemoryBonus = 0.1
	confidenceSourceBonus = 0.2
	confidenceFloor       = 0.1
)

// Response is the result of one orchestrated query.
type Response struct {
	// Answer is the generated (or degraded) answer text
	Answer string `json:"answer"`

	// Sources lists the retrieved documents that grounded the answer
	Sources []search.RetrievedSource `json:"sources"`

	// Confidence is the heuristic score in [0.1, 1.0]
	Confidence float64 `json:"confidence"`

	// MemoryTypesUsed lists which memory kinds contributed context,
	// in episodic/semantic/procedural order
	MemoryTypesUsed []string `json:"memory_types_used"`

	// ReasoningSteps is a human-readable trace of the pipeline stages
	ReasoningSteps []string `json:"reasoning_steps"`

	// Personalized is true when at least one memory kind contributed
	Personalized bool `json:"personalized"`
}

// Coach orchestrates memory, retrieval, and generation.
type Coach struct {
	memories  memory.Store
	profiles  profile.Store
	retriever *search.HybridRetriever
	engine    reasoning.Engine
	policy    *policy.Policy
	clk       clock.Clock
	topK      int
}

// Option configures a Coach.
type Option func(*Coach)

// WithClock injects a clock, primarily for tests.
func WithClock(c clock.Clock) Option {
	return func(co *Coach) {
		co.clk = c
	}
}

// WithTopK sets the document retrieval count.
func WithTopK(k int) Option {
	return func(co *Coach) {
		co.topK = k
	}
}

// New creates a Coach. All five collaborators are required.
func New(
	memories memory.Store,
	profiles profile.Store,
	retriever *search.HybridRetriever,
	engine reasoning.Engine,
	pol *policy.Policy,
	opts ...Option,
) (*Coach, error) {
	if memories == nil || profiles == nil || retriever == nil || engine == nil || pol == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "coach requires memory store, profile store, retriever, engine, and policy")
	}

	c := &Coach{
		memories:  memories,
		profiles:  profiles,
		retriever: retriever,
		engine:    engine,
		policy:    pol,
		clk:       clock.System(),
		topK:      3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Profiles exposes the profile store for callers that manage profiles
// directly, such as the CLI.
func (c *Coach) Profiles() profile.Store {
	return c.profiles
}

// Memories exposes the memory store for direct reads and writes
// outside the query pipeline.
func (c *Coach) Memories() memory.Store {
	return c.memories
}

// memoryContext holds whatever the retrieval stage managed to gather.
type memoryContext struct {
	episodic   []memory.EpisodicMemory
	semantic   []memory.SemanticMemory
	procedural []memory.ProceduralMemory
}

func (m memoryContext) typesUsed() []string {
	var types []string
	if len(m.episodic) > 0 {
		types = append(types, "episodic")
	}
	if len(m.semantic) > 0 {
		types = append(types, "semantic")
	}
	if len(m.procedural) > 0 {
		types = append(types, "procedural")
	}
	return types
}

// ProcessQuery runs the full pipeline for one query.
func (c *Coach) ProcessQuery(ctx context.Context, userID, query string) (Response, error) {
	if userID == "" {
		return Response{}, errors.Wrap(errors.ErrInvalidInput, "user id is required")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{}, errors.Wrap(errors.ErrInvalidInput, "query is required")
	}

	start := c.clk.Now()
	var steps []string

	log.DebugContext(ctx, "Processing coaching query",
		"user_id", userID,
		"query_length", len(query),
	)

	// Stage 1: user profile. A missing profile is a brand-new user,
	// not an error.
	userProfile, err := c.profiles.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			log.WarnContext(ctx, "Profile load failed, continuing without profile",
				"user_id", userID, "error", err)
		}
		userProfile = profile.New(userID, start)
		steps = append(steps, "no stored profile, using defaults")
	} else {
		steps = append(steps, "loaded user profile")
	}

	// Stage 2: query embedding. Failure disables document retrieval
	// but not memory retrieval.
	var queryVector []float32
	embeddings, err := c.engine.GenerateEmbeddings(ctx, []string{query})
	if err != nil || len(embeddings) == 0 {
		log.WarnContext(ctx, "Query embedding failed, skipping document search",
			"user_id", userID, "error", err)
		steps = append(steps, "embedding unavailable, document search skipped")
	} else {
		queryVector = embeddings[0]
		steps = append(steps, "embedded query")
	}

	// Stage 3: memory retrieval and document search run concurrently;
	// generation is the join point.
	var (
		wg      sync.WaitGroup
		memCtx  memoryContext
		sources []search.RetrievedSource
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		memCtx = c.retrieveMemories(ctx, userID, query)
	}()

	if queryVector != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var searchErr error
			sources, searchErr = c.retriever.SearchHybrid(ctx, userID, queryVector, c.topK)
			if searchErr != nil {
				log.WarnContext(ctx, "Hybrid search failed, continuing without sources",
					"user_id", userID, "error", searchErr)
				sources = nil
			}
		}()
	}
	wg.Wait()

	memoryTypes := memCtx.typesUsed()
	steps = append(steps, fmt.Sprintf("retrieved %d episodic, %d semantic, %d procedural memories",
		len(memCtx.episodic), len(memCtx.semantic), len(memCtx.procedural)))
	steps = append(steps, fmt.Sprintf("retrieved %d document sources", len(sources)))

	// Stage 4: generation.
	systemPrompt := buildSystemPrompt(userProfile)
	userPrompt := buildUserPrompt(query, memCtx, sources)

	answer, genErr := c.engine.Generate(ctx, systemPrompt, userPrompt, nil)
	success := genErr == nil

	var confidence float64
	if success {
		confidence = scoreConfidence(memoryTypes, sources)
		steps = append(steps, "generated answer")
	} else {
		log.ErrorContext(ctx, "Generation failed, returning degraded answer",
			"user_id", userID, "error", genErr)
		answer = DegradedAnswer
		confidence = confidenceFloor
		steps = append(steps, "generation failed, degraded answer returned")
	}

	response := Response{
		Answer:          answer,
		Sources:         sources,
		Confidence:      confidence,
		MemoryTypesUsed: memoryTypes,
		ReasoningSteps:  steps,
		Personalized:    len(memoryTypes) > 0,
	}

	// Stage 5: write-back. Failures here never affect the response.
	c.writeBack(ctx, userID, query, userProfile, response, success, start)

	return response, nil
}

// retrieveMemories executes the policy's retrieval plan. Each call is
// independently fallible; a failed call contributes nothing.
func (c *Coach) retrieveMemories(ctx context.Context, userID, query string) memoryContext {
	var memCtx memoryContext

	for _, q := range c.policy.EpisodicQueries(userID, query) {
		episodic, err := c.memories.RetrieveEpisodic(ctx, q)
		if err != nil {
			log.WarnContext(ctx, "Episodic retrieval failed",
				"user_id", userID, "event_type", q.EventType, "error", err)
			continue
		}
		memCtx.episodic = append(memCtx.episodic, episodic...)
	}

	for _, concept := range c.policy.ExtractConcepts(ctx, query) {
		semantic, err := c.memories.RetrieveSemantic(ctx, memory.SemanticQuery{Concept: concept})
		if err != nil {
			log.WarnContext(ctx, "Semantic retrieval failed",
				"user_id", userID, "concept", concept, "error", err)
			continue
		}
		memCtx.semantic = append(memCtx.semantic, semantic...)
	}

	for _, skill := range c.policy.ExtractSkills(ctx, query) {
		procedural, err := c.memories.RetrieveProcedural(ctx, memory.ProceduralQuery{Skill: skill})
		if err != nil {
			log.WarnContext(ctx, "Procedural retrieval failed",
				"user_id", userID, "skill", skill, "error", err)
			continue
		}
		memCtx.procedural = append(memCtx.procedural, procedural...)
	}

	return memCtx
}

// scoreConfidence computes the response confidence for a successful
// generation.
func scoreConfidence(memoryTypes []string, sources []search.RetrievedSource) float64 {
	confidence := confidenceBase
	confidence += confidenceMemoryBonus * float64(len(memoryTypes))
	if len(sources) > 0 {
		confidence += confidenceSourceBonus
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

// writeBack records the interaction: one episodic conversation record,
// a profile session touch, and a query metric when the memory store
// keeps metrics. All three are best-effort.
func (c *Coach) writeBack(ctx context.Context, userID, query string, userProfile profile.UserProfile, response Response, success bool, start time.Time) {
	now := c.clk.Now()

	_, err := c.memories.StoreEpisodic(ctx, memory.EpisodicMemory{
		UserID:    userID,
		EventType: memory.EventConversation,
		Content:   fmt.Sprintf("User: %s | Assistant: %s", query, response.Answer),
		Context: map[string]interface{}{
			"confidence":   response.Confidence,
			"memory_types": response.MemoryTypesUsed,
			"personalized": response.Personalized,
		},
		Timestamp: now,
	})
	if err != nil {
		log.WarnContext(ctx, "Failed to record conversation", "user_id", userID, "error", err)
	}

	userProfile.TotalSessions++
	userProfile.LastActive = now
	if err := c.profiles.Put(ctx, userProfile); err != nil {
		log.WarnContext(ctx, "Failed to update profile", "user_id", userID, "error", err)
	}

	if metrics, ok := c.memories.(memory.MetricsStore); ok {
		err := metrics.StoreQueryMetric(ctx, memory.QueryMetric{
			Query:        query,
			ResponseTime: now.Sub(start),
			Confidence:   response.Confidence,
			MemoryTypes:  response.MemoryTypesUsed,
			Personalized: response.Personalized,
			Success:      success,
			Timestamp:    now,
		})
		if err != nil {
			log.WarnContext(ctx, "Failed to record query metric", "user_id", userID, "error", err)
		}
	}
}
