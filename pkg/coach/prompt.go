package coach

import (
	"fmt"
	"strings"

	"github.com/lexlapax/coachmem/pkg/profile"
	"github.com/lexlapax/coachmem/pkg/search"
)

// buildSystemPrompt builds the coaching persona prompt, personalized
// from whatever the profile carries.
func buildSystemPrompt(p profile.UserProfile) string {
	var b strings.Builder
	b.WriteString("You are a supportive learning coach. Give practical, specific guidance ")
	b.WriteString("and keep answers focused on what the learner asked.")

	if p.LearningStyle != "" {
		b.WriteString(fmt.Sprintf("\nThe learner prefers a %s learning style; shape explanations accordingly.", p.LearningStyle))
	}
	if len(p.LearningGoals) > 0 {
		b.WriteString(fmt.Sprintf("\nTheir stated learning goals: %s.", strings.Join(p.LearningGoals, ", ")))
	}
	if subject, ok := p.Preferences["subject_focus"].(string); ok && subject != "" {
		b.WriteString(fmt.Sprintf("\nTheir current subject focus is %s.", subject))
	}
	if difficulty, ok := p.Preferences["difficulty_level"].(string); ok && difficulty != "" {
		b.WriteString(fmt.Sprintf("\nPitch explanations at a %s level.", difficulty))
	}

	return b.String()
}

// buildUserPrompt assembles the generation prompt from the query, the
// gathered memory context, and the retrieved document sources. Empty
// sections are omitted entirely.
func buildUserPrompt(query string, memCtx memoryContext, sources []search.RetrievedSource) string {
	var b strings.Builder

	if len(memCtx.episodic) > 0 {
		b.WriteString("Recent interactions with this learner:\n")
		for _, m := range memCtx.episodic {
			b.WriteString(fmt.Sprintf("- [%s] %s\n", m.EventType, m.Content))
		}
		b.WriteString("\n")
	}

	if len(memCtx.semantic) > 0 {
		b.WriteString("Relevant knowledge:\n")
		for _, m := range memCtx.semantic {
			b.WriteString(fmt.Sprintf("- %s", m.Concept))
			if desc, ok := m.Knowledge["description"].(string); ok && desc != "" {
				b.WriteString(": " + desc)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(memCtx.procedural) > 0 {
		b.WriteString("Known approaches:\n")
		for _, m := range memCtx.procedural {
			b.WriteString(fmt.Sprintf("- %s:\n", m.Skill))
			for _, step := range m.Steps {
				b.WriteString(fmt.Sprintf("  %d. %s: %s\n", step.Step, step.Action, step.Description))
			}
		}
		b.WriteString("\n")
	}

	if len(sources) > 0 {
		b.WriteString("Reference material:\n")
		for i, src := range sources {
			b.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, src.SourceType, src.TextSnippet))
		}
		b.WriteString("\n")
	}

	if b.Len() > 0 {
		b.WriteString("Using the context above where it helps, answer this question:\n")
	}
	b.WriteString(query)

	return b.String()
}
