package types

import (
	"context"
)

// UsageMetadata captures token usage metrics from a single model call.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// LLMToolResponse contains both the text response and any tool calls
// from the model.
type LLMToolResponse struct {
	Text       string        `json:"text"`        // May be empty when only tool calls are present
	ToolCalls  []ToolCall    `json:"tool_calls"`  // Tool invocations requested by the model
	StopReason string        `json:"stop_reason"` // "end_turn", "tool_use", "error", ...
	Usage      UsageMetadata `json:"usage"`
}

// LLMClient defines the interface for model interactions. The engine
// treats the model as an opaque request/response capability; retry
// policy lives behind this interface, never in the engine.
type LLMClient interface {
	// Complete sends a bare prompt. Used for cheap auxiliary calls
	// such as history summarization.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithTools sends a system prompt, a message history, and
	// tool definitions, and returns the model's reply with any tool
	// calls it requested.
	CompleteWithTools(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition) (*LLMToolResponse, error)

	// Provider and Model identify the binding for usage accounting.
	Provider() string
	Model() string
}

// ToolBridge executes named tools on behalf of the engine. Tool names
// are namespaced ("journal.create_entry"); ListTools reports everything
// the bridge can serve.
type ToolBridge interface {
	ListTools() []ToolDefinition
	ExecuteTool(ctx context.Context, name string, input map[string]any) (string, error)
}

// SkeletonBuilder produces a structured day summary for a resolved
// date. Failures degrade to "no skeleton"; the engine never blocks a
// turn on this collaborator.
type SkeletonBuilder interface {
	BuildSkeleton(ctx context.Context, date string) (string, error)
}

// ContextSource supplies per-user context text loaded once per session.
type ContextSource interface {
	UserContext(ctx context.Context, date string) (string, error)
}

// TokenSink receives streamed text deltas during a model call. Reset is
// called when the model turns out to be issuing tool calls, meaning any
// partial text already delivered must be discarded by the caller.
type TokenSink interface {
	Write(delta string)
	Reset()
}
