package coach

import (
	"context"

	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/memory"
)

// SeedUserMemories installs the starter knowledge a new user begins
// with: general learning methodology and a problem-solving workflow.
// Seeding is idempotent under the store's upsert semantics, so calling
// it again for an existing user is harmless.
func (c *Coach) SeedUserMemories(ctx context.Context, userID string) error {
	now := c.clk.Now()

	_, err := c.memories.StoreSemantic(ctx, memory.SemanticMemory{
		Concept: "learning_methodology",
		Knowledge: map[string]interface{}{
			"description": "Effective learning combines spaced practice, active recall, and regular feedback",
			"methods": []interface{}{
				"spaced repetition",
				"active recall",
				"deliberate practice",
				"teaching others",
			},
		},
		Relationships: []string{"education", "study_skills"},
		Confidence:    0.8,
		LastUpdated:   now,
	})
	if err != nil {
		return err
	}

	_, err = c.memories.StoreProcedural(ctx, memory.ProceduralMemory{
		Skill: "problem_solving",
		Steps: []memory.Step{
			{Step: 1, Action: "understand", Description: "Restate the problem in your own words"},
			{Step: 2, Action: "decompose", Description: "Break the problem into smaller parts"},
			{Step: 3, Action: "research", Description: "Gather what is already known about each part"},
			{Step: 4, Action: "plan", Description: "Choose an approach and order the parts"},
			{Step: 5, Action: "execute", Description: "Work through the plan one part at a time"},
			{Step: 6, Action: "review", Description: "Verify the result and note what to do differently"},
		},
		Prerequisites:   []string{"basic_analysis"},
		SuccessCriteria: []string{"problem resolved", "approach can be explained"},
		LastUsed:        now,
	})
	if err != nil {
		return err
	}

	_, err = c.memories.StoreEpisodic(ctx, memory.EpisodicMemory{
		UserID:    userID,
		EventType: memory.EventLearning,
		Content:   "Started coaching sessions",
		Context:   map[string]interface{}{"seeded": true},
		Timestamp: now,
	})
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "Seeded starter memories", "user_id", userID)
	return nil
}
