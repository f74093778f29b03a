package coach

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lexlapax/coachmem/pkg/memory"
	"github.com/lexlapax/coachmem/pkg/profile"
	"github.com/lexlapax/coachmem/pkg/search"
)

func TestBuildSystemPrompt_DefaultProfile(t *testing.T) {
	prompt := buildSystemPrompt(profile.New("user-1", time.Now()))

	assert.Contains(t, prompt, "learning coach")
	assert.NotContains(t, prompt, "learning style")
	assert.NotContains(t, prompt, "goals")
}

func TestBuildSystemPrompt_FullProfile(t *testing.T) {
	p := profile.New("user-1", time.Now())
	p.LearningStyle = "visual"
	p.LearningGoals = []string{"pass algebra", "improve writing"}
	p.Preferences["subject_focus"] = "mathematics"
	p.Preferences["difficulty_level"] = "beginner"

	prompt := buildSystemPrompt(p)

	assert.Contains(t, prompt, "visual learning style")
	assert.Contains(t, prompt, "pass algebra, improve writing")
	assert.Contains(t, prompt, "subject focus is mathematics")
	assert.Contains(t, prompt, "beginner level")
}

func TestBuildUserPrompt_QueryOnly(t *testing.T) {
	prompt := buildUserPrompt("what is a fraction?", memoryContext{}, nil)

	// With nothing retrieved, the prompt is just the query
	assert.Equal(t, "what is a fraction?", prompt)
}

func TestBuildUserPrompt_AllSections(t *testing.T) {
	memCtx := memoryContext{
		episodic: []memory.EpisodicMemory{
			{EventType: memory.EventConversation, Content: "Talked about fractions"},
		},
		semantic: []memory.SemanticMemory{
			{Concept: "mathematics", Knowledge: map[string]interface{}{"description": "core subject"}},
		},
		procedural: []memory.ProceduralMemory{
			{
				Skill: "problem_solving",
				Steps: []memory.Step{{Step: 1, Action: "understand", Description: "read carefully"}},
			},
		},
	}
	sources := []search.RetrievedSource{
		{SourceType: search.SourceGlobal, TextSnippet: "a fraction represents a part of a whole"},
	}

	prompt := buildUserPrompt("explain fractions", memCtx, sources)

	assert.Contains(t, prompt, "Recent interactions with this learner:")
	assert.Contains(t, prompt, "- [conversation] Talked about fractions")
	assert.Contains(t, prompt, "Relevant knowledge:")
	assert.Contains(t, prompt, "- mathematics: core subject")
	assert.Contains(t, prompt, "Known approaches:")
	assert.Contains(t, prompt, "1. understand: read carefully")
	assert.Contains(t, prompt, "Reference material:")
	assert.Contains(t, prompt, "[1] (global) a fraction represents a part of a whole")
	assert.Contains(t, prompt, "Using the context above")

	// The query comes last
	assert.True(t, len(prompt) > len("explain fractions"))
	assert.Equal(t, "explain fractions", prompt[len(prompt)-len("explain fractions"):])
}
