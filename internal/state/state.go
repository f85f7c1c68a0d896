// Package state defines the conversation record that flows through the
// engine and is checkpointed after every node transition.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"lifelog/internal/types"
)

// Mode is the current interpretation of session intent.
type Mode string

const (
	ModeIdle     Mode = "idle"
	ModeLogging  Mode = "logging"
	ModeQuerying Mode = "querying"
)

// UsageRecord is one model invocation's token accounting. Records are
// append-only; the ledger consumes them through a watermark.
type UsageRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
}

// ToolInvocation is the per-turn audit record of one executed tool call.
// Result is truncated for audit purposes; the full result goes back to
// the model as a tool-result message.
type ToolInvocation struct {
	CallID     string        `json:"call_id"`
	Name       string        `json:"name"`
	Duration   time.Duration `json:"duration"`
	Result     string        `json:"result"`
	Truncated  bool          `json:"truncated"`
	Failed     bool          `json:"failed"`
	StartedAt  time.Time     `json:"started_at"`
}

// State is the versioned conversation record for one thread. It is
// mutated only by engine nodes and persisted atomically per thread id.
type State struct {
	ThreadID string          `json:"thread_id"`
	Messages []types.Message `json:"messages"`

	Mode        Mode   `json:"mode"`
	ActiveSkill string `json:"active_skill,omitempty"`
	TargetDate  string `json:"target_date,omitempty"` // ISO date of the logging session
	Skeleton    string `json:"skeleton,omitempty"`    // cached day skeleton for TargetDate

	TurnCount          int `json:"turn_count"`
	RequestCount       int `json:"request_count"`        // model calls this turn
	ToolCallsRemaining int `json:"tool_calls_remaining"` // per-turn budget, never increases within a turn

	ToolLog      []ToolInvocation `json:"tool_log,omitempty"` // reset each turn
	UsageRecords []UsageRecord    `json:"usage_records,omitempty"`

	// Session-cached prompt material, loaded once per session by the
	// prepare-context node.
	SkillInstructions string `json:"skill_instructions,omitempty"`
	UserContext       string `json:"user_context,omitempty"`
	UserContextLoaded bool   `json:"user_context_loaded,omitempty"`

	// Distill holds the distiller's reference index and digest for this
	// thread, opaque to the engine.
	Distill json.RawMessage `json:"distill,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}

// New returns an empty idle state for a thread.
func New(threadID string) *State {
	return &State{
		ThreadID: threadID,
		Mode:     ModeIdle,
	}
}

// AppendMessage appends a turn entry, enforcing the tool-result pairing
// invariant: a tool result must answer a tool-call id emitted by the
// most recent assistant message or an earlier still-unresolved one.
func (s *State) AppendMessage(m types.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Role == types.RoleTool {
		if _, ok := s.UnresolvedToolCalls()[m.ToolCallID]; !ok {
			return fmt.Errorf("tool result references unknown tool_call_id %q", m.ToolCallID)
		}
	}
	s.Messages = append(s.Messages, m)
	return nil
}

// UnresolvedToolCalls returns the tool calls that have no matching tool
// result yet, keyed by call id.
func (s *State) UnresolvedToolCalls() map[string]types.ToolCall {
	open := make(map[string]types.ToolCall)
	for _, m := range s.Messages {
		switch m.Role {
		case types.RoleAssistant:
			for _, tc := range m.ToolCalls {
				open[tc.ID] = tc
			}
		case types.RoleTool:
			delete(open, m.ToolCallID)
		case types.RoleUser:
		}
	}
	return open
}

// LatestUserMessage returns the most recent user turn, or the zero
// message when none exists.
func (s *State) LatestUserMessage() (types.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == types.RoleUser {
			return s.Messages[i], true
		}
	}
	return types.Message{}, false
}

// LatestAssistantMessage returns the most recent assistant turn.
func (s *State) LatestAssistantMessage() (types.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == types.RoleAssistant {
			return s.Messages[i], true
		}
	}
	return types.Message{}, false
}

// BeginTurn increments the turn counter and resets the per-turn
// counters and tool log.
func (s *State) BeginTurn(toolCallBudget int) {
	s.TurnCount++
	s.RequestCount = 0
	s.ToolCallsRemaining = toolCallBudget
	s.ToolLog = nil
}

// SetTargetDate updates the logging-session date, invalidating the
// cached skeleton when the date changes.
func (s *State) SetTargetDate(date string) {
	if s.TargetDate != date {
		s.Skeleton = ""
	}
	s.TargetDate = date
}

// RecordUsage appends one model invocation's token counts.
func (s *State) RecordUsage(provider, model string, usage types.UsageMetadata) {
	s.UsageRecords = append(s.UsageRecords, UsageRecord{
		Timestamp:    time.Now().UTC(),
		Provider:     provider,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	})
}

// FirstUserMessage returns the first user turn's content, for title
// derivation on the thread's first completed turn.
func (s *State) FirstUserMessage() string {
	for _, m := range s.Messages {
		if m.Role == types.RoleUser {
			return m.Content
		}
	}
	return ""
}

// Clone returns a deep copy via JSON round-trip, so checkpoint backends
// never alias engine-owned slices.
func (s *State) Clone() (*State, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var out State
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &out, nil
}

// Marshal serializes the state for checkpoint blobs.
func (s *State) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal deserializes a checkpoint blob.
func Unmarshal(raw []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state blob: %w", err)
	}
	return &st, nil
}
