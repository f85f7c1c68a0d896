package engine

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifelog/internal/skill"
	"lifelog/internal/state"
	"lifelog/internal/types"
)

// nodeUpdateHistory is the entry node: it advances the turn counter and
// resets the per-turn budget, request count, and tool audit log.
func (e *Engine) nodeUpdateHistory(st *state.State) (step, error) {
	st.BeginTurn(e.budget)
	return stepRouteSkill, nil
}

// nodeRouteSkill inspects the latest user message and binds a skill.
// Resolution order: explicit command token, then the sticky mid-session
// skill, then the keyword intent classifier, then the ungrounded chat
// fallback. For domain skills, date detection and the logging-intent
// classifier jointly decide whether a skeleton build is needed.
func (e *Engine) nodeRouteSkill(st *state.State) (step, error) {
	msg, ok := st.LatestUserMessage()
	if !ok {
		return stepFallbackChat, nil
	}
	text := msg.Content

	var bound skill.Skill
	switch {
	case e.commandSkill(text, &bound):
	case e.stickySkill(st, &bound):
	case e.classifiedSkill(text, &bound):
	default:
		return stepFallbackChat, nil
	}

	if st.ActiveSkill != bound.Name {
		// Skill change invalidates cached skill instructions.
		st.SkillInstructions = ""
	}
	st.ActiveSkill = bound.Name

	if !bound.LoggingSkill {
		st.Mode = state.ModeQuerying
		return stepPrepareContext, nil
	}

	date, hasDate := DetectDate(text, time.Now())
	logging := IsLoggingIntent(text)

	if logging && hasDate {
		st.Mode = state.ModeLogging
		st.SetTargetDate(date)
		return stepBuildSkeleton, nil
	}
	if logging && st.Mode == state.ModeLogging && st.TargetDate != "" {
		// Continuing an in-flight logging session for the bound date.
		return stepBuildSkeleton, nil
	}
	if hasDate {
		st.SetTargetDate(date)
	}
	st.Mode = state.ModeQuerying
	return stepPrepareContext, nil
}

func (e *Engine) commandSkill(text string, out *skill.Skill) bool {
	token, ok := commandToken(text)
	if !ok {
		return false
	}
	s, ok := e.skills.ResolveCommand(token)
	if !ok {
		return false
	}
	*out = s
	return true
}

func (e *Engine) stickySkill(st *state.State, out *skill.Skill) bool {
	if st.Mode != state.ModeLogging && st.Mode != state.ModeQuerying {
		return false
	}
	if st.ActiveSkill == "" || st.ActiveSkill == skill.ChatSkillName {
		return false
	}
	s, ok := e.skills.Get(st.ActiveSkill)
	if !ok {
		return false
	}
	*out = s
	return true
}

func (e *Engine) classifiedSkill(text string, out *skill.Skill) bool {
	if !HasDomainIntent(text) {
		return false
	}
	s, ok := e.skills.Get(skill.DefaultSkillName)
	if !ok {
		return false
	}
	*out = s
	return true
}

// nodeBuildSkeleton fills the cached day skeleton for the resolved
// date. Builder failure degrades to "no skeleton" and never blocks the
// turn.
func (e *Engine) nodeBuildSkeleton(ctx context.Context, st *state.State) (step, error) {
	if st.Skeleton != "" {
		return stepPrepareContext, nil
	}
	if e.skeleton == nil || st.TargetDate == "" {
		return stepPrepareContext, nil
	}

	text, err := e.skeleton.BuildSkeleton(ctx, st.TargetDate)
	if err != nil {
		e.logger.Warn("skeleton build failed, continuing without",
			zap.String("thread_id", st.ThreadID),
			zap.String("date", st.TargetDate),
			zap.Error(err))
		st.Skeleton = ""
		return stepPrepareContext, nil
	}
	st.Skeleton = text
	return stepPrepareContext, nil
}

// nodePrepareContext loads skill instruction text and, once per
// session, the user/day context text.
func (e *Engine) nodePrepareContext(ctx context.Context, st *state.State) (step, error) {
	if st.SkillInstructions == "" {
		if s, ok := e.skills.Get(st.ActiveSkill); ok {
			st.SkillInstructions = s.Instructions
		}
	}
	if !st.UserContextLoaded && e.userCtx != nil {
		text, err := e.userCtx.UserContext(ctx, st.TargetDate)
		if err != nil {
			e.logger.Warn("user context load failed",
				zap.String("thread_id", st.ThreadID), zap.Error(err))
		} else {
			st.UserContext = text
		}
		st.UserContextLoaded = true
	}
	return stepCallModel, nil
}

// nodeFallbackChat clears skill and skeleton context for ungrounded
// conversation.
func (e *Engine) nodeFallbackChat(st *state.State) (step, error) {
	st.ActiveSkill = skill.ChatSkillName
	if s, ok := e.skills.Get(skill.ChatSkillName); ok {
		st.SkillInstructions = s.Instructions
	} else {
		st.SkillInstructions = ""
	}
	st.Skeleton = ""
	st.TargetDate = ""
	st.Mode = state.ModeIdle
	return stepCallModel, nil
}

// nodeCallModel builds the system prompt, distills the history, and
// invokes the model with the skill-filtered tool set. Tool-requesting
// responses consume budget; an exhausted budget forces a terminal
// message instead of another round.
func (e *Engine) nodeCallModel(ctx context.Context, st *state.State, t *turn) (step, error) {
	distilled, err := t.distiller.Distill(ctx, st.Messages, st.TurnCount)
	if err != nil {
		return stepDone, fmt.Errorf("history distillation failed: %w", err)
	}

	system := e.systemPrompt(st, t.distiller.Digest())
	tools := e.availableTools(st)

	st.RequestCount++
	resp, err := e.llm.CompleteWithTools(ctx, system, distilled, tools)
	if err != nil {
		// Model failures are re-raised to the caller; retry policy
		// belongs to the model client, not the engine.
		e.logger.Error("model invocation failed",
			zap.String("thread_id", st.ThreadID),
			zap.Int("turn", st.TurnCount),
			zap.Int("request", st.RequestCount),
			zap.String("stop_reason", "error"),
			zap.Error(err))
		return stepDone, fmt.Errorf("model invocation failed: %w", err)
	}

	st.RecordUsage(e.llm.Provider(), e.llm.Model(), resp.Usage)

	if len(resp.ToolCalls) > 0 {
		// Any streamed partial output is invalid once the model turns
		// out to be calling tools.
		if t.sink != nil {
			t.sink.Reset()
		}
		if st.ToolCallsRemaining <= 0 {
			forced := types.NewAssistantMessage(budgetExhaustedMessage, nil)
			if err := st.AppendMessage(forced); err != nil {
				return stepDone, err
			}
			if t.sink != nil {
				t.sink.Write(budgetExhaustedMessage)
			}
			e.logger.Info("tool budget exhausted, forcing termination",
				zap.String("thread_id", st.ThreadID),
				zap.Int("turn", st.TurnCount))
			return stepFinalizeTurn, nil
		}
		st.ToolCallsRemaining--
		calls := withCallIDs(resp.ToolCalls)
		if err := st.AppendMessage(types.NewAssistantMessage(resp.Text, calls)); err != nil {
			return stepDone, err
		}
		return stepExecuteTools, nil
	}

	content := resp.Text
	if content == "" {
		// Never surface a blank turn.
		content = emptyResponseMessage
	}
	if err := st.AppendMessage(types.NewAssistantMessage(content, nil)); err != nil {
		return stepDone, err
	}
	if t.sink != nil {
		t.sink.Write(content)
	}
	return stepFinalizeTurn, nil
}

// nodeExecuteTools runs every tool call from the latest assistant
// message sequentially, in order. Failures become tool results carrying
// the error text so the model can react; they never abort the turn.
// Control always returns to call-model: the model must see its tool
// results, and exhaustion is enforced there on the next tool-requesting
// response.
func (e *Engine) nodeExecuteTools(ctx context.Context, st *state.State, t *turn) (step, error) {
	last, ok := st.LatestAssistantMessage()
	if !ok || len(last.ToolCalls) == 0 {
		return stepCallModel, nil
	}

	for _, call := range last.ToolCalls {
		started := time.Now()
		result, failed := e.executeOne(ctx, call, t)
		duration := time.Since(started)

		if err := st.AppendMessage(types.NewToolResultMessage(call.ID, result)); err != nil {
			return stepDone, err
		}

		audit := result
		truncated := false
		if len(audit) > auditResultLimit {
			cut := auditResultLimit
			for cut > 0 && !utf8.RuneStart(audit[cut]) {
				cut--
			}
			audit = audit[:cut]
			truncated = true
		}
		st.ToolLog = append(st.ToolLog, state.ToolInvocation{
			CallID:    call.ID,
			Name:      call.Name,
			Duration:  duration,
			Result:    audit,
			Truncated: truncated,
			Failed:    failed,
			StartedAt: started.UTC(),
		})
		e.logger.Debug("tool executed",
			zap.String("thread_id", st.ThreadID),
			zap.String("tool", call.Name),
			zap.Duration("duration", duration),
			zap.Bool("failed", failed))
	}
	return stepCallModel, nil
}

// executeOne serves the synthetic expand_reference tool internally and
// everything else through the bridge.
func (e *Engine) executeOne(ctx context.Context, call types.ToolCall, t *turn) (result string, failed bool) {
	if call.Name == expandReferenceToolName {
		refID, _ := call.Input["ref_id"].(string)
		content, ok := t.distiller.Expand(refID)
		if !ok {
			return fmt.Sprintf("reference %q not found", refID), false
		}
		return content, false
	}

	out, err := e.tools.ExecuteTool(ctx, call.Name, call.Input)
	if err != nil {
		return fmt.Sprintf("tool %s failed: %v", call.Name, err), true
	}
	return out, false
}

// nodeFinalizeTurn stamps completion, persists the distiller snapshot
// into state, and synchronizes the thread ledger from the final state.
// The checkpoint write that follows this node is the turn's durability
// boundary.
func (e *Engine) nodeFinalizeTurn(ctx context.Context, st *state.State, t *turn) (step, error) {
	st.LastUpdated = time.Now().UTC()

	snap, err := t.distiller.Snapshot()
	if err != nil {
		return stepDone, fmt.Errorf("failed to snapshot distill state: %w", err)
	}
	st.Distill = snap

	if e.ledger != nil {
		if err := e.ledger.SyncFromState(ctx, st.ThreadID, st); err != nil {
			// Ledger is eventually consistent with state; a failed sync
			// is repaired by the next completed turn.
			e.logger.Warn("ledger sync failed",
				zap.String("thread_id", st.ThreadID), zap.Error(err))
		}
	}
	e.logger.Info("turn finalized",
		zap.String("thread_id", st.ThreadID),
		zap.Int("turn", st.TurnCount),
		zap.Int("messages", len(st.Messages)),
		zap.Int("model_calls", st.RequestCount),
		zap.Float64("distill_ratio", t.distiller.Ratio()))
	return stepDone, nil
}

// availableTools filters the bridge's tools to the active skill's
// namespaces and appends the always-available expand_reference tool.
func (e *Engine) availableTools(st *state.State) []types.ToolDefinition {
	var defs []types.ToolDefinition
	if s, ok := e.skills.Get(st.ActiveSkill); ok {
		defs = s.FilterTools(e.tools.ListTools())
	}
	return append(defs, expandReferenceTool())
}

// withCallIDs synthesizes ids for tool calls the provider left blank,
// so tool results can always be paired.
func withCallIDs(calls []types.ToolCall) []types.ToolCall {
	out := make([]types.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()[:8]
		}
		out[i] = c
	}
	return out
}
