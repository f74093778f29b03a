package search

import (
	"context"
	"sort"
	"sync"

	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/log"
)

// HybridRetriever searches a user's private collection and the shared
// global collection concurrently and merges the results under a
// configurable user/global weighting.
type HybridRetriever struct {
	index            VectorIndex
	globalCollection string
	userPrefix       string
	userWeight       float64
	defaultTopK      int
}

// HybridConfig configures a HybridRetriever.
type HybridConfig struct {
	// GlobalCollection is the shared collection name
	GlobalCollection string

	// UserCollectionPrefix is prepended to the user id to form the
	// per-user collection name
	UserCollectionPrefix string

	// UserWeight scales user-collection scores; global scores are
	// scaled by 1 - UserWeight. Must be in [0, 1].
	UserWeight float64

	// TopK is the default result count when the caller passes <= 0
	TopK int
}

// NewHybridRetriever creates a retriever over the given index.
func NewHybridRetriever(index VectorIndex, cfg HybridConfig) (*HybridRetriever, error) {
	if index == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "vector index is required")
	}
	if cfg.UserWeight < 0 || cfg.UserWeight > 1 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "user weight must be in [0, 1]")
	}
	if cfg.GlobalCollection == "" {
		cfg.GlobalCollection = "coach_docs"
	}
	if cfg.UserCollectionPrefix == "" {
		cfg.UserCollectionPrefix = "coach_user_"
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}

	return &HybridRetriever{
		index:            index,
		globalCollection: cfg.GlobalCollection,
		userPrefix:       cfg.UserCollectionPrefix,
		userWeight:       cfg.UserWeight,
		defaultTopK:      cfg.TopK,
	}, nil
}

// UserCollection returns the collection name for a user's private documents.
func (h *HybridRetriever) UserCollection(userID string) string {
	return h.userPrefix + userID
}

// GlobalCollection returns the shared collection name.
func (h *HybridRetriever) GlobalCollection() string {
	return h.globalCollection
}

// Index exposes the underlying vector index for ingestion.
func (h *HybridRetriever) Index() VectorIndex {
	return h.index
}

// SearchHybrid runs the user and global searches concurrently, applies
// the weighting, and returns the merged top results.
//
// Scores are adjusted as user×w and global×(1−w). The merge is a
// stable sort by adjusted score descending with user hits listed ahead
// of global ones, so equal scores resolve deterministically. A failure
// in one branch degrades to the other branch's results alone; only
// both branches failing is an error.
func (h *HybridRetriever) SearchHybrid(ctx context.Context, userID string, vector []float32, topK int) ([]RetrievedSource, error) {
	if len(vector) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "query vector is required")
	}
	if topK <= 0 {
		topK = h.defaultTopK
	}

	var (
		wg         sync.WaitGroup
		userHits   []Hit
		globalHits []Hit
		userErr    error
		globalErr  error
	)

	// Both branches fetch topK so the merged cut can be all-user or
	// all-global when one side dominates.
	wg.Add(2)
	go func() {
		defer wg.Done()
		userHits, userErr = h.index.Search(ctx, h.UserCollection(userID), vector, topK)
	}()
	go func() {
		defer wg.Done()
		globalHits, globalErr = h.index.Search(ctx, h.globalCollection, vector, topK)
	}()
	wg.Wait()

	if userErr != nil && globalErr != nil {
		return nil, errors.Wrap(userErr, "hybrid search failed in both collections")
	}
	if userErr != nil {
		log.WarnContext(ctx, "User collection search failed, using global results only",
			"user_id", userID, "error", userErr)
		userHits = nil
	}
	if globalErr != nil {
		log.WarnContext(ctx, "Global collection search failed, using user results only",
			"user_id", userID, "error", globalErr)
		globalHits = nil
	}

	merged := make([]RetrievedSource, 0, len(userHits)+len(globalHits))
	for _, hit := range userHits {
		merged = append(merged, toSource(hit, h.userWeight, SourceUser))
	}
	for _, hit := range globalHits {
		merged = append(merged, toSource(hit, 1-h.userWeight, SourceGlobal))
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if len(merged) > topK {
		merged = merged[:topK]
	}

	log.DebugContext(ctx, "Hybrid search complete",
		"user_id", userID,
		"user_hits", len(userHits),
		"global_hits", len(globalHits),
		"returned", len(merged),
	)
	return merged, nil
}

func toSource(hit Hit, weight float64, sourceType SourceType) RetrievedSource {
	sourceID := hit.Payload.SourceID
	if sourceID == "" {
		sourceID = hit.ID
	}
	return RetrievedSource{
		SourceID:    sourceID,
		ChunkID:     hit.ID,
		Score:       hit.Score * weight,
		TextSnippet: Snippet(hit.Payload.Text),
		SourceType:  sourceType,
	}
}
