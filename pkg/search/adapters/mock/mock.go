package mock

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/lexlapax/coachmem/pkg/search"
)

type point struct {
	id      string
	vector  []float32
	payload search.Payload
}

// Index is an in-memory implementation of search.VectorIndex for tests.
// Similarity is exact cosine over the stored vectors, so tests can
// construct vectors with known rankings. Scores and errors can be
// forced per collection to exercise degraded paths.
type Index struct {
	mu          sync.RWMutex
	collections map[string][]point

	// SearchErr, when set for a collection, is returned by Search
	searchErr map[string]error

	// LastQueryVector records the most recent Search vector for
	// test verification
	LastQueryVector []float32
}

// NewIndex creates an empty mock index.
func NewIndex() *Index {
	return &Index{
		collections: make(map[string][]point),
		searchErr:   make(map[string]error),
	}
}

// FailSearch makes Search return err for the given collection.
func (x *Index) FailSearch(collection string, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.searchErr[collection] = err
}

// Upsert implements the search.VectorIndex interface.
func (x *Index) Upsert(ctx context.Context, collection string, id string, vector []float32, payload search.Payload) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	points := x.collections[collection]
	for i, p := range points {
		if p.id == id {
			points[i] = point{id: id, vector: vector, payload: payload}
			return nil
		}
	}
	x.collections[collection] = append(points, point{id: id, vector: vector, payload: payload})
	return nil
}

// Search implements the search.VectorIndex interface.
func (x *Index) Search(ctx context.Context, collection string, vector []float32, topK int) ([]search.Hit, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.LastQueryVector = vector
	if err := x.searchErr[collection]; err != nil {
		return nil, err
	}

	points := x.collections[collection]
	if len(points) == 0 {
		return nil, nil
	}

	hits := make([]search.Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, search.Hit{
			ID:      p.id,
			Score:   cosineSimilarity(vector, p.vector),
			Payload: p.payload,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
