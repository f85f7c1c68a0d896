package engine

import (
	"context"
	"fmt"
	"strings"

	"lifelog/internal/types"
)

// --- MockLLMClient ---

// MockLLMClient serves scripted responses in order. When the script
// runs out it keeps returning the last response, which lets budget
// tests model a client that requests tools forever.
type MockLLMClient struct {
	Script       []*types.LLMToolResponse
	CompleteFunc func(ctx context.Context, prompt string) (string, error)

	Calls         int
	SystemPrompts []string
	SentMessages  [][]types.Message
	SentTools     [][]types.ToolDefinition
}

func (m *MockLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return "summary of: " + truncateForMock(prompt), nil
}

func (m *MockLLMClient) CompleteWithTools(ctx context.Context, systemPrompt string, messages []types.Message, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	m.Calls++
	m.SystemPrompts = append(m.SystemPrompts, systemPrompt)
	msgs := make([]types.Message, len(messages))
	copy(msgs, messages)
	m.SentMessages = append(m.SentMessages, msgs)
	m.SentTools = append(m.SentTools, tools)

	if len(m.Script) == 0 {
		return nil, fmt.Errorf("mock LLM has no scripted responses")
	}
	idx := m.Calls - 1
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	}
	return m.Script[idx], nil
}

func (m *MockLLMClient) Provider() string { return "mock" }
func (m *MockLLMClient) Model() string    { return "mock-model" }

func truncateForMock(s string) string {
	if len(s) > 40 {
		return s[:40]
	}
	return s
}

// --- MockToolBridge ---

type MockToolBridge struct {
	Tools       []types.ToolDefinition
	ExecuteFunc func(ctx context.Context, name string, input map[string]any) (string, error)

	Executed []string
}

func (m *MockToolBridge) ListTools() []types.ToolDefinition {
	return m.Tools
}

func (m *MockToolBridge) ExecuteTool(ctx context.Context, name string, input map[string]any) (string, error) {
	m.Executed = append(m.Executed, name)
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, name, input)
	}
	return "ok", nil
}

// --- MockSkeletonBuilder ---

type MockSkeletonBuilder struct {
	BuildFunc func(ctx context.Context, date string) (string, error)
	Calls     int
}

func (m *MockSkeletonBuilder) BuildSkeleton(ctx context.Context, date string) (string, error) {
	m.Calls++
	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, date)
	}
	return "skeleton for " + date, nil
}

// --- MockContextSource ---

type MockContextSource struct {
	Context string
	Err     error
	Calls   int
}

func (m *MockContextSource) UserContext(ctx context.Context, date string) (string, error) {
	m.Calls++
	return m.Context, m.Err
}

// --- recordingSink ---

type recordingSink struct {
	Writes []string
	Resets int
}

func (s *recordingSink) Write(delta string) { s.Writes = append(s.Writes, delta) }
func (s *recordingSink) Reset()             { s.Resets++ }

func (s *recordingSink) Text() string { return strings.Join(s.Writes, "") }

// --- scripted response helpers ---

func textResponse(text string) *types.LLMToolResponse {
	return &types.LLMToolResponse{Text: text, StopReason: "end_turn",
		Usage: types.UsageMetadata{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}
}

func toolResponse(calls ...types.ToolCall) *types.LLMToolResponse {
	return &types.LLMToolResponse{ToolCalls: calls, StopReason: "tool_use",
		Usage: types.UsageMetadata{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}
}

func journalTool(name string) types.ToolDefinition {
	return types.ToolDefinition{
		Name:        name,
		Description: "test tool",
		InputSchema: map[string]any{"type": "object"},
	}
}
