package chromem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/search"
)

func TestUpsert_Validation(t *testing.T) {
	index := NewIndex()
	ctx := context.Background()

	err := index.Upsert(ctx, "docs", "", []float32{1, 0}, search.Payload{})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	err = index.Upsert(ctx, "docs", "chunk-1", nil, search.Payload{})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestSearch_MissingCollection(t *testing.T) {
	index := NewIndex()

	// A collection that was never written to is empty, not an error
	hits, err := index.Search(context.Background(), "missing", []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpsertAndSearch(t *testing.T) {
	index := NewIndex()
	ctx := context.Background()

	docs := []struct {
		id     string
		vector []float32
		text   string
	}{
		{"chunk-1", []float32{1, 0, 0}, "note about fractions"},
		{"chunk-2", []float32{0, 1, 0}, "note about grammar"},
		{"chunk-3", []float32{0.9, 0.1, 0}, "more about fractions"},
	}
	for _, d := range docs {
		err := index.Upsert(ctx, "docs", d.id, d.vector, search.Payload{
			SourceID: "notes.md",
			Text:     d.text,
			Metadata: map[string]string{"subject": "school"},
		})
		require.NoError(t, err)
	}

	hits, err := index.Search(ctx, "docs", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "chunk-1", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "chunk-3", hits[1].ID)
	assert.Equal(t, "notes.md", hits[1].Payload.SourceID)
	assert.Equal(t, "more about fractions", hits[1].Payload.Text)
	assert.Equal(t, "school", hits[1].Payload.Metadata["subject"])
}

func TestSearch_ClampsTopK(t *testing.T) {
	index := NewIndex()
	ctx := context.Background()

	err := index.Upsert(ctx, "docs", "chunk-1", []float32{1, 0}, search.Payload{})
	require.NoError(t, err)

	// Asking for more results than documents must not error
	hits, err := index.Search(ctx, "docs", []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestUpsert_ReplacesById(t *testing.T) {
	index := NewIndex()
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, "docs", "chunk-1", []float32{1, 0},
		search.Payload{Text: "first"}))
	require.NoError(t, index.Upsert(ctx, "docs", "chunk-1", []float32{1, 0},
		search.Payload{Text: "second"}))

	hits, err := index.Search(ctx, "docs", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "second", hits[0].Payload.Text)
}

func TestPersistentIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping persistent index test in short mode")
	}

	dir := t.TempDir()
	ctx := context.Background()

	index, err := NewPersistentIndex(dir)
	require.NoError(t, err)
	require.NoError(t, index.Upsert(ctx, "docs", "chunk-1", []float32{1, 0},
		search.Payload{SourceID: "notes.md", Text: "persisted"}))

	// Reopen from disk and read it back
	reopened, err := NewPersistentIndex(dir)
	require.NoError(t, err)

	hits, err := reopened.Search(ctx, "docs", []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "persisted", hits[0].Payload.Text)
	assert.Contains(t, reopened.Collections(), "docs")
}
