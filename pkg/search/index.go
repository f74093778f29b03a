package search

import "context"

// VectorIndex is the interface all vector index adapters implement.
// Collections are created lazily on first Upsert; Search against a
// collection that has never been written returns an empty result, not
// an error, because a brand-new user with no private collection is a
// normal state.
type VectorIndex interface {
	// Upsert writes (or overwrites) one vector point in a collection.
	Upsert(ctx context.Context, collection string, id string, vector []float32, payload Payload) error

	// Search returns up to topK nearest points, best first.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error)
}
