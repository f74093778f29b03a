package search

import "unicode/utf8"

// SourceType marks whether a retrieved source came from the user's
// private collection or the shared global one.
type SourceType string

const (
	SourceUser   SourceType = "user"
	SourceGlobal SourceType = "global"
)

// Payload is the data stored alongside a vector point.
type Payload struct {
	// SourceID identifies the document the chunk came from
	SourceID string

	// Text is the chunk content
	Text string

	// Metadata is free-form string annotation
	Metadata map[string]string
}

// Hit is a single vector search result. Score is a similarity in
// [0, 1], higher is better.
type Hit struct {
	ID      string
	Score   float64
	Payload Payload
}

// RetrievedSource is a hit after hybrid weighting, as presented to the
// generation stage and attached to responses.
type RetrievedSource struct {
	// SourceID identifies the originating document
	SourceID string `json:"source_id"`

	// ChunkID identifies the specific chunk (the vector point id)
	ChunkID string `json:"chunk_id"`

	// Score is the weight-adjusted similarity
	Score float64 `json:"score"`

	// TextSnippet is the chunk text, truncated to snippetLimit
	TextSnippet string `json:"text_snippet"`

	// SourceType is user or global
	SourceType SourceType `json:"source_type"`
}

// snippetLimit caps the text carried on a RetrievedSource. Full chunk
// text stays in the index; responses only need enough for display and
// prompt context.
const snippetLimit = 400

// Snippet truncates text to the snippet limit, backing up to a rune
// boundary so the cut never splits a multi-byte character.
func Snippet(text string) string {
	if len(text) <= snippetLimit {
		return text
	}

	cut := snippetLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
