package coach

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/reasoning"
	"github.com/lexlapax/coachmem/pkg/search"
)

// Indexer ingests documents into the vector index the retriever
// searches: it embeds text chunks and upserts them with fresh ids.
type Indexer struct {
	engine    reasoning.Engine
	retriever *search.HybridRetriever
}

// NewIndexer creates an Indexer sharing the coach's engine and retriever.
func (c *Coach) NewIndexer() *Indexer {
	return &Indexer{
		engine:    c.engine,
		retriever: c.retriever,
	}
}

// IndexGlobal ingests chunks into the shared global collection.
func (ix *Indexer) IndexGlobal(ctx context.Context, sourceID string, chunks []string) (int, error) {
	return ix.index(ctx, ix.retriever.GlobalCollection(), sourceID, chunks)
}

// IndexForUser ingests chunks into a user's private collection.
func (ix *Indexer) IndexForUser(ctx context.Context, userID, sourceID string, chunks []string) (int, error) {
	return ix.index(ctx, ix.retriever.UserCollection(userID), sourceID, chunks)
}

func (ix *Indexer) index(ctx context.Context, collection, sourceID string, chunks []string) (int, error) {
	if sourceID == "" {
		return 0, errors.Wrap(errors.ErrInvalidInput, "source id is required")
	}

	// Drop empty chunks before embedding; the provider charges per input.
	texts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if trimmed := strings.TrimSpace(chunk); trimmed != "" {
			texts = append(texts, trimmed)
		}
	}
	if len(texts) == 0 {
		return 0, nil
	}

	embeddings, err := ix.engine.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return 0, errors.Wrap(err, "failed to embed %d chunks for %s", len(texts), sourceID)
	}
	if len(embeddings) != len(texts) {
		return 0, errors.Wrap(errors.ErrEmbeddingUnavailable, "embedding count mismatch: got %d for %d chunks", len(embeddings), len(texts))
	}

	indexed := 0
	for i, text := range texts {
		err := ix.retriever.Index().Upsert(ctx, collection, uuid.New().String(), embeddings[i], search.Payload{
			SourceID: sourceID,
			Text:     text,
		})
		if err != nil {
			return indexed, errors.Wrap(err, "failed to index chunk %d of %s", i, sourceID)
		}
		indexed++
	}

	log.InfoContext(ctx, "Indexed document",
		"collection", collection,
		"source_id", sourceID,
		"chunks", indexed,
	)
	return indexed, nil
}
