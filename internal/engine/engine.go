// Package engine implements the conversation orchestration core: a
// per-thread state machine that routes an incoming message, runs a
// budgeted loop between the model and the tool bridge, compresses
// history through the distiller, and checkpoints state per node
// transition.
package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lifelog/internal/checkpoint"
	"lifelog/internal/distill"
	"lifelog/internal/ledger"
	"lifelog/internal/skill"
	"lifelog/internal/state"
	"lifelog/internal/types"
)

// DefaultToolCallBudget is the per-turn cap on call-model/execute-tools
// round trips.
const DefaultToolCallBudget = 10

// auditResultLimit bounds tool results recorded in the per-turn audit
// log. The full result still goes back to the model.
const auditResultLimit = 512

// step is the typed routing value each node returns; it is consumed
// directly by the run loop and never stored in persisted state.
type step int

const (
	stepUpdateHistory step = iota
	stepRouteSkill
	stepBuildSkeleton
	stepPrepareContext
	stepFallbackChat
	stepCallModel
	stepExecuteTools
	stepFinalizeTurn
	stepDone
)

func (s step) String() string {
	switch s {
	case stepUpdateHistory:
		return "update-history"
	case stepRouteSkill:
		return "route-skill"
	case stepBuildSkeleton:
		return "build-skeleton"
	case stepPrepareContext:
		return "prepare-context"
	case stepFallbackChat:
		return "fallback-chat"
	case stepCallModel:
		return "call-model"
	case stepExecuteTools:
		return "execute-tools"
	case stepFinalizeTurn:
		return "finalize-turn"
	case stepDone:
		return "done"
	}
	return "unknown"
}

// Config supplies the engine's collaborators. LLM, Tools, and
// Checkpoints are required; the rest degrade gracefully when absent.
type Config struct {
	LLM         types.LLMClient
	Tools       types.ToolBridge
	Skills      *skill.Registry
	Skeleton    types.SkeletonBuilder
	UserContext types.ContextSource
	Checkpoints checkpoint.Store
	Ledger      *ledger.Ledger
	Distillers  *distill.Cache

	ToolCallBudget int
	Logger         *zap.Logger
}

// Engine orchestrates conversation turns. One Engine serves many
// threads; turns for the same thread are serialized internally.
type Engine struct {
	llm         types.LLMClient
	tools       types.ToolBridge
	skills      *skill.Registry
	skeleton    types.SkeletonBuilder
	userCtx     types.ContextSource
	checkpoints checkpoint.Store
	ledger      *ledger.Ledger
	distillers  *distill.Cache
	budget      int
	logger      *zap.Logger

	threadLocks sync.Map // thread id -> *sync.Mutex
}

// New validates collaborators and builds an engine. A missing model
// client or tool bridge is fatal here, not at turn time.
func New(cfg Config) (*Engine, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("engine requires a model client")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("engine requires a tool bridge")
	}
	if cfg.Checkpoints == nil {
		return nil, fmt.Errorf("engine requires a checkpoint store")
	}
	if cfg.Skills == nil {
		cfg.Skills = skill.NewRegistry()
	}
	if cfg.ToolCallBudget <= 0 {
		cfg.ToolCallBudget = DefaultToolCallBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Distillers == nil {
		cfg.Distillers = distill.NewCache(distill.DefaultConfig(), cfg.LLM, nil, cfg.Logger)
	}
	return &Engine{
		llm:         cfg.LLM,
		tools:       cfg.Tools,
		skills:      cfg.Skills,
		skeleton:    cfg.Skeleton,
		userCtx:     cfg.UserContext,
		checkpoints: cfg.Checkpoints,
		ledger:      cfg.Ledger,
		distillers:  cfg.Distillers,
		budget:      cfg.ToolCallBudget,
		logger:      cfg.Logger,
	}, nil
}

// NodeEvent is one state-machine transition, as observed by RunStream.
// State is a snapshot taken after the node completed.
type NodeEvent struct {
	Node  string
	State *state.State
}

// turn carries the per-turn runtime that is never persisted: the
// streaming sink, the thread's distiller, and the stream event emitter.
type turn struct {
	sink      types.TokenSink
	distiller *distill.Distiller
	emit      func(node string, st *state.State)
}

// Run executes one full turn for a thread and returns the final state.
// sink may be nil.
func (e *Engine) Run(ctx context.Context, input, threadID string, sink types.TokenSink) (*state.State, error) {
	return e.run(ctx, input, threadID, &turn{sink: sink})
}

// RunStream executes one turn while emitting a NodeEvent after every
// node. The events channel closes when the turn completes; the single
// error (or nil) arrives on the second channel. Events are dropped
// rather than buffered without bound when the consumer lags, so a
// stalled consumer never blocks the turn.
func (e *Engine) RunStream(ctx context.Context, input, threadID string, sink types.TokenSink) (<-chan NodeEvent, <-chan error) {
	events := make(chan NodeEvent, 8)
	errs := make(chan error, 1)

	g, gctx := errgroup.WithContext(ctx)
	t := &turn{
		sink: sink,
		emit: func(node string, st *state.State) {
			snap, err := st.Clone()
			if err != nil {
				return
			}
			select {
			case events <- NodeEvent{Node: node, State: snap}:
			default:
				e.logger.Debug("node event dropped, consumer not draining",
					zap.String("thread_id", threadID), zap.String("node", node))
			}
		},
	}
	g.Go(func() error {
		_, err := e.run(gctx, input, threadID, t)
		return err
	})
	go func() {
		errs <- g.Wait()
		close(events)
		close(errs)
	}()
	return events, errs
}

func (e *Engine) run(ctx context.Context, input, threadID string, t *turn) (*state.State, error) {
	lock := e.lockThread(threadID)
	lock.Lock()
	defer lock.Unlock()

	st, err := e.loadState(ctx, threadID)
	if err != nil {
		return nil, err
	}

	t.distiller = e.distillers.GetOrCreate(threadID)
	if err := t.distiller.Restore(st.Distill); err != nil {
		e.logger.Warn("distill state unreadable, starting fresh",
			zap.String("thread_id", threadID), zap.Error(err))
	}

	if err := st.AppendMessage(types.NewUserMessage(input)); err != nil {
		return nil, err
	}

	cur := stepUpdateHistory
	for cur != stepDone {
		next, err := e.dispatch(ctx, cur, st, t)
		if err != nil {
			return nil, err
		}
		// State is persisted after every node transition; finalize-turn
		// is the turn's durability boundary and also syncs the ledger.
		if err := e.checkpoints.Put(ctx, threadID, st); err != nil {
			return nil, fmt.Errorf("checkpoint write failed after %s: %w", cur, err)
		}
		if t.emit != nil {
			t.emit(cur.String(), st)
		}
		cur = next
	}
	return st, nil
}

func (e *Engine) dispatch(ctx context.Context, cur step, st *state.State, t *turn) (step, error) {
	e.logger.Debug("node enter",
		zap.String("thread_id", st.ThreadID),
		zap.String("node", cur.String()),
		zap.Int("turn", st.TurnCount))
	switch cur {
	case stepUpdateHistory:
		return e.nodeUpdateHistory(st)
	case stepRouteSkill:
		return e.nodeRouteSkill(st)
	case stepBuildSkeleton:
		return e.nodeBuildSkeleton(ctx, st)
	case stepPrepareContext:
		return e.nodePrepareContext(ctx, st)
	case stepFallbackChat:
		return e.nodeFallbackChat(st)
	case stepCallModel:
		return e.nodeCallModel(ctx, st, t)
	case stepExecuteTools:
		return e.nodeExecuteTools(ctx, st, t)
	case stepFinalizeTurn:
		return e.nodeFinalizeTurn(ctx, st, t)
	default:
		return stepDone, fmt.Errorf("unknown engine step %d", cur)
	}
}

func (e *Engine) lockThread(threadID string) *sync.Mutex {
	v, _ := e.threadLocks.LoadOrStore(threadID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (e *Engine) loadState(ctx context.Context, threadID string) (*state.State, error) {
	st, err := e.checkpoints.Get(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if st == nil {
		st = state.New(threadID)
	}
	return st, nil
}

// EvictThread drops the thread's in-memory distiller, e.g. after a
// thread is soft-deleted or idle-reaped. Checkpointed state is kept.
func (e *Engine) EvictThread(threadID string) {
	e.distillers.Evict(threadID)
	e.threadLocks.Delete(threadID)
}
