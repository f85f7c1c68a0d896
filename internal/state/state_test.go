package state

import (
	"testing"

	"lifelog/internal/types"
)

func TestAppendMessageEnforcesToolPairing(t *testing.T) {
	st := New("t1")

	if err := st.AppendMessage(types.NewToolResultMessage("nope", "result")); err == nil {
		t.Error("tool result without a matching call must be rejected")
	}

	if err := st.AppendMessage(types.NewUserMessage("log my run")); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendMessage(types.NewAssistantMessage("", []types.ToolCall{
		{ID: "c1", Name: "journal.create_entry"},
	})); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendMessage(types.NewToolResultMessage("c1", "created")); err != nil {
		t.Errorf("matching tool result rejected: %v", err)
	}
	if err := st.AppendMessage(types.NewToolResultMessage("c1", "again")); err == nil {
		t.Error("a call id must not be answerable twice")
	}
}

func TestMessageValidate(t *testing.T) {
	bad := types.Message{Role: types.RoleUser, Content: "x", ToolCallID: "c1"}
	if err := bad.Validate(); err == nil {
		t.Error("user message with tool_call_id must be invalid")
	}
	bad = types.Message{Role: types.RoleTool, Content: "x"}
	if err := bad.Validate(); err == nil {
		t.Error("tool result without tool_call_id must be invalid")
	}
	bad = types.Message{Role: "narrator", Content: "x"}
	if err := bad.Validate(); err == nil {
		t.Error("unknown role must be invalid")
	}
}

func TestBeginTurnResetsPerTurnState(t *testing.T) {
	st := New("t1")
	st.BeginTurn(10)
	st.RequestCount = 4
	st.ToolCallsRemaining = 2
	st.ToolLog = []ToolInvocation{{Name: "journal.create_entry"}}

	st.BeginTurn(10)
	if st.TurnCount != 2 {
		t.Errorf("turn count = %d, want 2", st.TurnCount)
	}
	if st.RequestCount != 0 || st.ToolCallsRemaining != 10 || st.ToolLog != nil {
		t.Errorf("per-turn state not reset: %+v", st)
	}
}

func TestSetTargetDateInvalidatesSkeleton(t *testing.T) {
	st := New("t1")
	st.SetTargetDate("2026-08-25")
	st.Skeleton = "cached"

	st.SetTargetDate("2026-08-25")
	if st.Skeleton != "cached" {
		t.Error("same date must keep the skeleton")
	}

	st.SetTargetDate("2026-08-26")
	if st.Skeleton != "" {
		t.Error("date change must clear the skeleton")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	st := New("t1")
	if err := st.AppendMessage(types.NewUserMessage("hello")); err != nil {
		t.Fatal(err)
	}
	st.RecordUsage("gemini", "m", types.UsageMetadata{InputTokens: 1, OutputTokens: 1, TotalTokens: 2})

	clone, err := st.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	clone.Messages[0].Content = "mutated"
	clone.UsageRecords[0].InputTokens = 99

	if st.Messages[0].Content != "hello" {
		t.Error("clone shares message storage with the original")
	}
	if st.UsageRecords[0].InputTokens != 1 {
		t.Error("clone shares usage storage with the original")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	st := New("t1")
	if err := st.AppendMessage(types.NewUserMessage("hello")); err != nil {
		t.Fatal(err)
	}
	st.BeginTurn(10)
	st.Mode = ModeLogging
	st.SetTargetDate("2026-08-25")

	raw, err := st.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ThreadID != "t1" || got.Mode != ModeLogging || got.TargetDate != "2026-08-25" {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.TurnCount != 1 || len(got.Messages) != 1 {
		t.Errorf("round trip lost counters or messages: %+v", got)
	}
}

func TestLatestMessagesAndFirstUser(t *testing.T) {
	st := New("t1")
	if _, ok := st.LatestUserMessage(); ok {
		t.Error("empty state has no user message")
	}
	mustAppend := func(m types.Message) {
		t.Helper()
		if err := st.AppendMessage(m); err != nil {
			t.Fatal(err)
		}
	}
	mustAppend(types.NewUserMessage("first"))
	mustAppend(types.NewAssistantMessage("reply one", nil))
	mustAppend(types.NewUserMessage("second"))

	if st.FirstUserMessage() != "first" {
		t.Errorf("FirstUserMessage = %q", st.FirstUserMessage())
	}
	if m, _ := st.LatestUserMessage(); m.Content != "second" {
		t.Errorf("LatestUserMessage = %q", m.Content)
	}
	if m, _ := st.LatestAssistantMessage(); m.Content != "reply one" {
		t.Errorf("LatestAssistantMessage = %q", m.Content)
	}
}
