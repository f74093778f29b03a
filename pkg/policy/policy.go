// Package policy decides which memories are worth fetching for a query.
// The rules are deterministic keyword tables so retrieval stays
// reproducible and testable; an optional sandboxed Lua hook can replace
// a table, falling back to the built-in rules on any hook failure.
package policy

import (
	"context"
	"strings"

	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/memory"
	"github.com/lexlapax/coachmem/pkg/scripting"
)

// Meta-concepts recognized alongside the subject vocabulary.
const (
	ConceptLearningMethodology  = "learning_methodology"
	ConceptLearningDifficulties = "learning_difficulties"
)

// Hook function names looked up on the Lua engine.
const (
	hookExtractConcepts = "extract_concepts"
	hookExtractSkills   = "extract_skills"
)

// subjectConcepts is the recognized subject vocabulary. A concept
// matches when its name appears as a substring of the lowercased query.
var subjectConcepts = []string{
	"mathematics",
	"programming",
	"language",
	"science",
	"history",
	"art",
	"music",
	"sports",
	"cooking",
	"photography",
}

// methodologyKeywords trigger the learning_methodology meta-concept.
var methodologyKeywords = []string{"learn", "study", "practice", "improve"}

// difficultyKeywords trigger the learning_difficulties meta-concept.
var difficultyKeywords = []string{"difficult", "hard", "challenge", "struggle"}

// skillKeywords maps each known skill to the keywords that suggest it.
// Order matters for deterministic output, so the skills are kept in a
// fixed slice rather than a map.
var skillKeywords = []struct {
	skill    string
	keywords []string
}{
	{"problem_solving", []string{"solve", "problem", "fix", "debug", "troubleshoot"}},
	{"learning_planning", []string{"plan", "schedule", "organize", "structure"}},
	{"practice_techniques", []string{"practice", "exercise", "drill", "repetition"}},
	{"memory_techniques", []string{"remember", "memorize", "recall", "memory"}},
	{"time_management", []string{"time", "schedule", "deadline", "efficient"}},
}

// learningEventLimit caps the secondary learning-event query.
const learningEventLimit = 2

// Policy is the deterministic memory retrieval policy. It is
// side-effect free: the same query always yields the same plan.
type Policy struct {
	conversationLimit int
	hooks             scripting.Engine
}

// Option configures a Policy.
type Option func(*Policy)

// WithHooks attaches a Lua engine whose extract_concepts and
// extract_skills functions override the built-in tables.
func WithHooks(engine scripting.Engine) Option {
	return func(p *Policy) {
		p.hooks = engine
	}
}

// New creates a Policy. conversationLimit bounds the recent
// conversation query; values <= 0 fall back to 3.
func New(conversationLimit int, opts ...Option) *Policy {
	if conversationLimit <= 0 {
		conversationLimit = 3
	}

	p := &Policy{
		conversationLimit: conversationLimit,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EpisodicQueries returns the episodic retrieval plan for a query:
// recent conversations first, then a smaller slice of learning events.
func (p *Policy) EpisodicQueries(userID, query string) []memory.EpisodicQuery {
	return []memory.EpisodicQuery{
		{
			UserID:    userID,
			EventType: memory.EventConversation,
			Limit:     p.conversationLimit,
		},
		{
			UserID:    userID,
			EventType: memory.EventLearning,
			Limit:     learningEventLimit,
		},
	}
}

// ExtractConcepts returns the semantic concepts suggested by the query:
// any subject vocabulary word appearing in it, plus the methodology and
// difficulty meta-concepts when their trigger words appear.
func (p *Policy) ExtractConcepts(ctx context.Context, query string) []string {
	if hooked, ok := p.runHook(ctx, hookExtractConcepts, query); ok {
		return hooked
	}

	lowered := strings.ToLower(query)

	var concepts []string
	for _, concept := range subjectConcepts {
		if strings.Contains(lowered, concept) {
			concepts = append(concepts, concept)
		}
	}
	if containsAny(lowered, methodologyKeywords) {
		concepts = append(concepts, ConceptLearningMethodology)
	}
	if containsAny(lowered, difficultyKeywords) {
		concepts = append(concepts, ConceptLearningDifficulties)
	}
	return concepts
}

// ExtractSkills returns the procedural skills suggested by the query.
func (p *Policy) ExtractSkills(ctx context.Context, query string) []string {
	if hooked, ok := p.runHook(ctx, hookExtractSkills, query); ok {
		return hooked
	}

	lowered := strings.ToLower(query)

	var skills []string
	for _, entry := range skillKeywords {
		if containsAny(lowered, entry.keywords) {
			skills = append(skills, entry.skill)
		}
	}
	return skills
}

// runHook executes a Lua hook and coerces its result to a string slice.
// Any failure, a missing function included, reports ok=false so the
// caller falls back to the built-in tables.
func (p *Policy) runHook(ctx context.Context, name, query string) ([]string, bool) {
	if p.hooks == nil {
		return nil, false
	}

	result, err := p.hooks.ExecuteFunction(ctx, name, query)
	if err != nil {
		if !scripting.IsFunctionNotFound(err) {
			log.WarnContext(ctx, "Policy hook failed, using built-in rules",
				"hook", name, "error", err)
		}
		return nil, false
	}

	items, ok := result.([]interface{})
	if !ok {
		log.WarnContext(ctx, "Policy hook returned unexpected type, using built-in rules",
			"hook", name)
		return nil, false
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out, true
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
