package chromem

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/search"
)

// Index implements the search.VectorIndex interface using chromem-go,
// an embedded vector database. Embeddings are always supplied by the
// caller, so collections are created with a nil embedding function.
type Index struct {
	db *chromem.DB

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewIndex creates an in-memory index.
func NewIndex() *Index {
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// NewPersistentIndex creates an index persisted under storagePath.
func NewPersistentIndex(storagePath string) (*Index, error) {
	db, err := chromem.NewPersistentDB(storagePath, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem database: %w", err)
	}

	log.Debug("Initialized persistent chromem vector index", "path", storagePath)
	return &Index{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (x *Index) collection(name string, create bool) (*chromem.Collection, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if c, ok := x.collections[name]; ok {
		return c, nil
	}

	if !create {
		c := x.db.GetCollection(name, nil)
		if c != nil {
			x.collections[name] = c
		}
		return c, nil
	}

	c, err := x.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create collection %s: %w", name, err)
	}
	x.collections[name] = c
	return c, nil
}

// Upsert implements the search.VectorIndex interface.
func (x *Index) Upsert(ctx context.Context, collection string, id string, vector []float32, payload search.Payload) error {
	if id == "" {
		return errors.Wrap(errors.ErrInvalidInput, "document id is required")
	}
	if len(vector) == 0 {
		return errors.Wrap(errors.ErrInvalidInput, "document vector is required")
	}

	c, err := x.collection(collection, true)
	if err != nil {
		return err
	}

	metadata := make(map[string]string, len(payload.Metadata)+1)
	for k, v := range payload.Metadata {
		metadata[k] = v
	}
	if payload.SourceID != "" {
		metadata["source_id"] = payload.SourceID
	}

	doc := chromem.Document{
		ID:        id,
		Embedding: vector,
		Metadata:  metadata,
		Content:   payload.Text,
	}
	if err := c.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add document to collection %s: %w", collection, err)
	}
	return nil
}

// Search implements the search.VectorIndex interface. A missing or
// empty collection returns an empty result.
func (x *Index) Search(ctx context.Context, collection string, vector []float32, topK int) ([]search.Hit, error) {
	if len(vector) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "query vector is required")
	}
	if topK <= 0 {
		topK = 3
	}

	c, err := x.collection(collection, false)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}

	// chromem errors when asked for more results than the collection
	// holds, so clamp to the document count.
	count := c.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := c.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}

	hits := make([]search.Hit, 0, len(results))
	for _, r := range results {
		metadata := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}

		hits = append(hits, search.Hit{
			ID:    r.ID,
			Score: float64(r.Similarity),
			Payload: search.Payload{
				SourceID: metadata["source_id"],
				Text:     r.Content,
				Metadata: metadata,
			},
		})
	}
	return hits, nil
}

// Collections lists the known collection names, for diagnostics.
func (x *Index) Collections() []string {
	names := make([]string, 0)
	for name := range x.db.ListCollections() {
		names = append(names, name)
	}
	return names
}
