package types

import (
	"fmt"
	"time"
)

// Role identifies who produced a message. The set is closed: every
// consumer switches exhaustively over these three values.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn entry in a conversation. It is a tagged union over
// Role:
//
//   - RoleUser: Content only.
//   - RoleAssistant: Content plus zero or more ToolCalls.
//   - RoleTool: Content (the tool result) plus the ToolCallID it answers.
//
// Fields outside a variant's set are always zero. Use the constructors
// below rather than building literals so the invariants hold.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// NewUserMessage builds a user turn.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage builds an assistant turn, optionally carrying tool
// call requests.
func NewAssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls, Timestamp: time.Now().UTC()}
}

// NewToolResultMessage builds a tool-result turn answering callID.
func NewToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Timestamp: time.Now().UTC()}
}

// Validate checks the variant invariants for a single message.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser:
		if len(m.ToolCalls) > 0 || m.ToolCallID != "" {
			return fmt.Errorf("user message carries tool fields")
		}
	case RoleAssistant:
		if m.ToolCallID != "" {
			return fmt.Errorf("assistant message carries a tool_call_id")
		}
	case RoleTool:
		if m.ToolCallID == "" {
			return fmt.Errorf("tool result missing tool_call_id")
		}
		if len(m.ToolCalls) > 0 {
			return fmt.Errorf("tool result carries tool calls")
		}
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	return nil
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolDefinition describes a tool the model can invoke.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}
