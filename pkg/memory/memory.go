package memory

import (
	"context"
	"time"
)

// EventType values commonly used for episodic memories. EventType is an
// open string; these are the buckets the retrieval policy queries.
const (
	EventConversation = "conversation"
	EventLearning     = "learning"
	EventInteraction  = "interaction"
)

// EpisodicMemory is a timestamped record of one user interaction or event.
// Episodic memories are append-only: they are never edited after creation
// and are only deleted in bulk by retention cleanup.
type EpisodicMemory struct {
	// ID is assigned by the store on write
	ID string

	// UserID is the owner; episodic memory is always user-scoped
	UserID string

	// EventType classifies the event (conversation, learning, ...)
	EventType string

	// Content is the memory text
	Content string

	// Context is free-form annotation data attached to the event
	Context map[string]interface{}

	// Embedding is the optional vector representation of Content
	Embedding []float32

	// Timestamp is when the event occurred
	Timestamp time.Time
}

// SemanticMemory is durable, user-independent conceptual knowledge keyed
// by concept name.
type SemanticMemory struct {
	// Concept is the unique key
	Concept string

	// Knowledge is free-form structured knowledge about the concept
	Knowledge map[string]interface{}

	// Relationships names related concepts
	Relationships []string

	// Confidence is clamped to [0, 1] on store
	Confidence float64

	// LastUpdated is when this knowledge was last written
	LastUpdated time.Time
}

// Step is one ordered action within a procedural memory.
type Step struct {
	Step        int    `json:"step"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// ProceduralMemory is a named skill or workflow with ordered steps,
// prerequisites, and success criteria.
type ProceduralMemory struct {
	// Skill is the unique key
	Skill string

	// Steps is the ordered action sequence
	Steps []Step

	// Prerequisites names skills or conditions required before use
	Prerequisites []string

	// SuccessCriteria names the conditions for successful completion
	SuccessCriteria []string

	// LastUsed is when this skill was last written or exercised
	LastUsed time.Time
}

// EpisodicQuery selects episodic memories for one user.
type EpisodicQuery struct {
	// UserID is required
	UserID string

	// Text, when set, is matched case-insensitively as a substring of
	// Content. This is a documented precision trade-off for stores
	// without a vector index, not a bug.
	Text string

	// EventType, when set, filters to one event bucket
	EventType string

	// Limit truncates the result after filtering; 0 means store default
	Limit int
}

// SemanticQuery selects semantic memories. At most one of Concept or
// Relationships should be set; a zero query returns everything and
// callers must bound that themselves.
type SemanticQuery struct {
	// Concept looks up a single concept
	Concept string

	// Relationships returns all concepts sharing at least one of these
	// relationship tags (OR semantics)
	Relationships []string
}

// ProceduralQuery selects procedural memories. Prerequisite matching is
// AND semantics: a skill matches only if every queried prerequisite is
// present on the record. This deliberately differs from the OR-match
// used for semantic relationships.
type ProceduralQuery struct {
	// Skill looks up a single skill
	Skill string

	// Prerequisites must all be satisfied by a matching record
	Prerequisites []string
}

// EpisodicStats summarizes the episodic table.
type EpisodicStats struct {
	TotalUsers    int `json:"total_users"`
	TotalMemories int `json:"total_memories"`
}

// SemanticStats summarizes the semantic table.
type SemanticStats struct {
	TotalConcepts int `json:"total_concepts"`
}

// ProceduralStats summarizes the procedural table.
type ProceduralStats struct {
	TotalSkills int `json:"total_skills"`
}

// Stats reports counts across all three memory kinds.
type Stats struct {
	Episodic   EpisodicStats   `json:"episodic"`
	Semantic   SemanticStats   `json:"semantic"`
	Procedural ProceduralStats `json:"procedural"`
}

// Store is the interface all memory store adapters implement. Callers
// are indifferent to whether the backing implementation is volatile or
// durable; the canonical semantics are the volatile ones (semantic and
// procedural writes upsert by key, last write wins), and durable
// adapters must present the same view at read time.
//
// All operations are safe for concurrent use across users; episodic
// appends for a single user are atomic per call.
type Store interface {
	// StoreEpisodic appends one episodic record and returns its id.
	// The only input validation is a non-empty UserID.
	StoreEpisodic(ctx context.Context, m EpisodicMemory) (string, error)

	// RetrieveEpisodic returns matching records, newest first.
	RetrieveEpisodic(ctx context.Context, q EpisodicQuery) ([]EpisodicMemory, error)

	// StoreSemantic upserts knowledge for a concept and returns a memory id.
	StoreSemantic(ctx context.Context, m SemanticMemory) (string, error)

	// RetrieveSemantic returns memories matching the query.
	RetrieveSemantic(ctx context.Context, q SemanticQuery) ([]SemanticMemory, error)

	// StoreProcedural upserts a skill and returns a memory id.
	StoreProcedural(ctx context.Context, m ProceduralMemory) (string, error)

	// RetrieveProcedural returns memories matching the query.
	RetrieveProcedural(ctx context.Context, q ProceduralQuery) ([]ProceduralMemory, error)

	// GetStats reports record counts for all memory kinds.
	GetStats(ctx context.Context) (Stats, error)
}

// Cleaner is implemented by stores that support retention sweeps.
type Cleaner interface {
	// CleanupEpisodic deletes episodic records strictly older than the
	// cutoff and returns how many were removed. Newer records are
	// never touched.
	CleanupEpisodic(ctx context.Context, olderThan time.Time) (int64, error)
}

// ClampConfidence clamps a confidence score into [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// HasAllPrerequisites reports whether every queried prerequisite is
// present on the record (the AND semantics of procedural retrieval).
func HasAllPrerequisites(record []string, queried []string) bool {
	for _, want := range queried {
		found := false
		for _, have := range record {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SharesAnyRelationship reports whether the record shares at least one
// relationship tag with the query (the OR semantics of semantic
// retrieval).
func SharesAnyRelationship(record []string, queried []string) bool {
	for _, want := range queried {
		for _, have := range record {
			if have == want {
				return true
			}
		}
	}
	return false
}
