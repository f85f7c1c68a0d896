package engine

import (
	"strings"

	"lifelog/internal/state"
	"lifelog/internal/types"
)

const basePrompt = `You are a personal life-journal assistant. You help the user record
daily life events (meals, workouts, sleep, health, mood) and answer
questions about what they have recorded. Be concise and factual. When
tools are available, prefer reading or writing journal data through
them over guessing. Never invent journal entries.`

// budgetExhaustedMessage is appended as the assistant turn when the
// model keeps requesting tools after the per-turn budget ran out.
const budgetExhaustedMessage = "I've reached the limit of tool operations for this turn. " +
	"Here's what I have so far; ask again to continue where I left off."

// emptyResponseMessage replaces a blank model reply so the user never
// sees a silent turn.
const emptyResponseMessage = "I wasn't able to produce a response for that. Could you rephrase?"

const expandReferenceToolName = "expand_reference"

// expandReferenceTool lets the model recover the full text of a tool
// result that the distiller replaced with a summary.
func expandReferenceTool() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        expandReferenceToolName,
		Description: "Retrieve the full original content of a summarized tool result by its reference id.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ref_id": map[string]any{
					"type":        "string",
					"description": "The reference id shown in the summarized placeholder, e.g. ref=3fa1b2c4.",
				},
			},
			"required": []string{"ref_id"},
		},
	}
}

// systemPrompt assembles the per-call system prompt from the static
// base, the distillation digest, the session's user context, the day
// skeleton, and the active skill's instructions. Empty sections are
// omitted entirely.
func (e *Engine) systemPrompt(st *state.State, digest string) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if digest != "" {
		b.WriteString("\n\n## Earlier conversation (summarized)\n")
		b.WriteString(digest)
	}
	if st.UserContext != "" {
		b.WriteString("\n\n## About the user\n")
		b.WriteString(st.UserContext)
	}
	if st.Skeleton != "" {
		b.WriteString("\n\n## Day so far (")
		b.WriteString(st.TargetDate)
		b.WriteString(")\n")
		b.WriteString(st.Skeleton)
	}
	if st.SkillInstructions != "" {
		b.WriteString("\n\n## Skill instructions\n")
		b.WriteString(st.SkillInstructions)
	}
	return b.String()
}
