package main

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"lifelog/internal/checkpoint"
	"lifelog/internal/distill"
	"lifelog/internal/engine"
	"lifelog/internal/journal"
	"lifelog/internal/ledger"
	"lifelog/internal/llm"
	"lifelog/internal/skill"
	"lifelog/internal/types"
)

// app bundles the wired components and their teardown.
type app struct {
	engine *engine.Engine
	ledger *ledger.Ledger

	closers []func() error
}

// buildApp wires the full stack from config: model client, journal
// store and bridge, checkpoint store, ledger, skills, engine.
func buildApp(ctx context.Context) (*app, error) {
	a := &app{}

	client, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	store, err := journal.Open(journalPath(), logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	bridge := journal.NewBridge(store)

	checkpoints, err := checkpoint.New(ctx, cfg.Checkpoint, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, checkpoints.Close)

	led, err := ledger.Open(cfg.Ledger.Path, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, led.Close)
	a.ledger = led

	skills := skill.NewRegistry()
	if cfg.Skills.Dir != "" {
		if err := skills.LoadDir(cfg.Skills.Dir); err != nil {
			logger.Warn("failed to load skill directory",
				zap.String("dir", cfg.Skills.Dir), zap.Error(err))
		}
		if cfg.Skills.Watch {
			stop, werr := skills.Watch(cfg.Skills.Dir, logger)
			if werr != nil {
				logger.Warn("skill watch unavailable", zap.Error(werr))
			} else {
				a.closers = append(a.closers, func() error { stop(); return nil })
			}
		}
	}

	// Summarization spend goes through the same append-only usage
	// ledger as turn spend.
	onUsage := func(threadID, provider, model string, usage types.UsageMetadata) {
		if err := led.RecordUsage(context.Background(), threadID, provider, model,
			usage.InputTokens, usage.OutputTokens); err != nil {
			logger.Warn("failed to record distiller usage", zap.Error(err))
		}
	}
	distillers := distill.NewCache(cfg.Distill, client, onUsage, logger)

	eng, err := engine.New(engine.Config{
		LLM:            client,
		Tools:          bridge,
		Skills:         skills,
		Skeleton:       bridge,
		UserContext:    bridge,
		Checkpoints:    checkpoints,
		Ledger:         led,
		Distillers:     distillers,
		ToolCallBudget: cfg.Engine.ToolCallBudget,
		Logger:         logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.engine = eng
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}

// journalPath places the entry store next to the ledger database.
func journalPath() string {
	return filepath.Join(filepath.Dir(cfg.Ledger.Path), "journal.db")
}
