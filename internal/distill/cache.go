package distill

import (
	"sync"

	"go.uber.org/zap"

	"lifelog/internal/types"
)

// Cache owns the per-thread distiller instances. It is constructed with
// the engine and lives for the server's lifetime; there is no package
// global. Each distiller assumes at most one active turn per thread id,
// which the engine guarantees.
type Cache struct {
	mu         sync.Mutex
	cfg        Config
	summarizer types.LLMClient // may be nil: deterministic fallback only
	onUsage    UsageFunc
	logger     *zap.Logger
	entries    map[string]*Distiller
}

// NewCache builds an empty distiller cache with a shared policy.
func NewCache(cfg Config, summarizer types.LLMClient, onUsage UsageFunc, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		cfg:        cfg.withDefaults(),
		summarizer: summarizer,
		onUsage:    onUsage,
		logger:     logger,
		entries:    make(map[string]*Distiller),
	}
}

// GetOrCreate returns the thread's distiller, creating it on first use.
func (c *Cache) GetOrCreate(threadID string) *Distiller {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.entries[threadID]; ok {
		return d
	}
	d := New(threadID, c.cfg, c.summarizer, c.onUsage, c.logger)
	c.entries[threadID] = d
	return d
}

// Evict drops the thread's distiller; persisted snapshot state in the
// checkpoint is untouched, so a later GetOrCreate plus Restore resumes
// where the thread left off.
func (c *Cache) Evict(threadID string) {
	c.mu.Lock()
	delete(c.entries, threadID)
	c.mu.Unlock()
}

// Len reports the number of live distillers, for observability.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
