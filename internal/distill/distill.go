// Package distill compresses a thread's message history into a bounded
// prompt context: a short digest of older turns, a verbatim window of
// recent messages, and a reference index that maps short ids back to
// full content the model can re-expand on demand.
package distill

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifelog/internal/types"
)

// Config makes the compression policy explicit. Zero values fall back
// to the defaults below.
type Config struct {
	RecentMessages      int `yaml:"recent_messages"`       // messages kept verbatim
	RecentToolResults   int `yaml:"recent_tool_results"`   // tool results kept verbatim inside the window
	ToolResultThreshold int `yaml:"tool_result_threshold"` // chars above which a tool result is summarized
	MaxSummaryLen       int `yaml:"max_summary_len"`       // cap on any produced summary
	MaxReferences       int `yaml:"max_references"`        // reference index capacity before eviction
}

// DefaultConfig returns the compression policy used when none is
// configured.
func DefaultConfig() Config {
	return Config{
		RecentMessages:      12,
		RecentToolResults:   3,
		ToolResultThreshold: 600,
		MaxSummaryLen:       400,
		MaxReferences:       64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecentMessages <= 0 {
		c.RecentMessages = d.RecentMessages
	}
	if c.RecentToolResults <= 0 {
		c.RecentToolResults = d.RecentToolResults
	}
	if c.ToolResultThreshold <= 0 {
		c.ToolResultThreshold = d.ToolResultThreshold
	}
	if c.MaxSummaryLen <= 0 {
		c.MaxSummaryLen = d.MaxSummaryLen
	}
	if c.MaxReferences <= 0 {
		c.MaxReferences = d.MaxReferences
	}
	return c
}

// UsageFunc receives the estimated token spend of summarization calls
// the distiller makes, so model-spend accounting stays centralized in
// the ledger regardless of which component incurred it.
type UsageFunc func(threadID, provider, model string, usage types.UsageMetadata)

// Distiller holds the per-thread compression state. It is not
// internally synchronized beyond the caller's guarantee of at most one
// active turn per thread id.
type Distiller struct {
	threadID   string
	cfg        Config
	summarizer types.LLMClient // optional; nil means deterministic fallback only
	onUsage    UsageFunc
	logger     *zap.Logger

	refs         map[string]string // ref id -> full original content
	refOrder     []string          // insertion order, for eviction
	byContent    map[string]string // full original content -> ref id
	replacements map[string]string // ref id -> rendered summary message
	digest       string            // natural-language digest of older history
	covered      int               // count of leading messages folded into digest

	// Folded history is counted once, at fold time. The verbatim window
	// is a view that changes every pass, so its sizes are overwritten
	// rather than accumulated.
	originalChars   int
	distilledChars  int
	windowOriginal  int
	windowDistilled int
}

// snapshot is the serialized form persisted inside the conversation
// state; the engine treats it as opaque.
type snapshot struct {
	Refs           map[string]string `json:"refs,omitempty"`
	RefOrder       []string          `json:"ref_order,omitempty"`
	Replacements   map[string]string `json:"replacements,omitempty"`
	Digest         string            `json:"digest,omitempty"`
	Covered        int               `json:"covered"`
	OriginalChars  int               `json:"original_chars"`
	DistilledChars int               `json:"distilled_chars"`
}

// New creates a distiller for one thread. summarizer may be nil; every
// summarization then uses the deterministic local rule.
func New(threadID string, cfg Config, summarizer types.LLMClient, onUsage UsageFunc, logger *zap.Logger) *Distiller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distiller{
		threadID:     threadID,
		cfg:          cfg.withDefaults(),
		summarizer:   summarizer,
		onUsage:      onUsage,
		logger:       logger,
		refs:         make(map[string]string),
		byContent:    make(map[string]string),
		replacements: make(map[string]string),
	}
}

// Restore loads persisted compression state from a checkpoint blob.
// A nil or empty blob leaves the distiller fresh.
func (d *Distiller) Restore(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("failed to restore distill state: %w", err)
	}
	d.digest = snap.Digest
	d.covered = snap.Covered
	d.originalChars = snap.OriginalChars
	d.distilledChars = snap.DistilledChars
	d.refOrder = snap.RefOrder
	d.refs = snap.Refs
	if d.refs == nil {
		d.refs = make(map[string]string)
	}
	d.replacements = snap.Replacements
	if d.replacements == nil {
		d.replacements = make(map[string]string)
	}
	d.byContent = make(map[string]string, len(d.refs))
	for id, content := range d.refs {
		d.byContent[content] = id
	}
	return nil
}

// Snapshot serializes the compression state for checkpointing.
func (d *Distiller) Snapshot() (json.RawMessage, error) {
	return json.Marshal(snapshot{
		Refs:           d.refs,
		RefOrder:       d.refOrder,
		Replacements:   d.replacements,
		Digest:         d.digest,
		Covered:        d.covered,
		OriginalChars:  d.originalChars,
		DistilledChars: d.distilledChars,
	})
}

// Distill compresses the full history into the bounded prompt window.
// Messages beyond the recent window are folded into the digest; long or
// stale tool results inside the window are replaced by a summary tagged
// with a reference id recoverable through Expand.
func (d *Distiller) Distill(ctx context.Context, msgs []types.Message, turn int) ([]types.Message, error) {
	cut := len(msgs) - d.cfg.RecentMessages
	if cut < 0 {
		cut = 0
	}
	// Never split an assistant message from its pending tool results.
	for cut > 0 && cut < len(msgs) && msgs[cut].Role == types.RoleTool {
		cut--
	}

	if cut > d.covered {
		if err := d.extendDigest(ctx, msgs[d.covered:cut]); err != nil {
			return nil, err
		}
		d.covered = cut
	}

	recent := msgs[cut:]
	out := make([]types.Message, 0, len(recent))

	// Index tool results inside the window, newest last, so the oldest
	// ones past the keep-count get summarized first.
	toolSeen := 0
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		if m.Role == types.RoleTool {
			toolSeen++
		}
	}

	windowOriginal, windowDistilled := 0, 0
	toolRank := toolSeen // rank counts down; rank <= RecentToolResults is kept verbatim
	for _, m := range recent {
		windowOriginal += len(m.Content)
		if m.Role == types.RoleTool {
			rank := toolRank
			toolRank--
			keepVerbatim := rank <= d.cfg.RecentToolResults && len(m.Content) <= d.cfg.ToolResultThreshold
			if !keepVerbatim && len(m.Content) > d.cfg.ToolResultThreshold {
				m = d.replaceWithReference(ctx, m)
			}
		}
		windowDistilled += len(m.Content)
		out = append(out, m)
	}
	d.windowOriginal = windowOriginal
	d.windowDistilled = windowDistilled

	d.logger.Debug("history distilled",
		zap.String("thread_id", d.threadID),
		zap.Int("turn", turn),
		zap.Int("total_messages", len(msgs)),
		zap.Int("window", len(out)),
		zap.Int("digested", d.covered),
		zap.Float64("ratio", d.Ratio()))
	return out, nil
}

// replaceWithReference swaps a long tool result for a summary carrying
// a reference id; the full content stays recoverable via Expand. A tool
// result already replaced on an earlier pass keeps its id and rendered
// summary, so repeated distillation never mints duplicates or
// re-summarizes.
func (d *Distiller) replaceWithReference(ctx context.Context, m types.Message) types.Message {
	if refID, ok := d.byContent[m.Content]; ok {
		if rendered, ok := d.replacements[refID]; ok {
			m.Content = rendered
			return m
		}
	}

	refID := uuid.NewString()[:8]
	d.refs[refID] = m.Content
	d.byContent[m.Content] = refID
	d.refOrder = append(d.refOrder, refID)
	d.evictOverflow()

	summary := d.summarize(ctx, m.Content)
	rendered := fmt.Sprintf("[summarized tool result, ref=%s; call expand_reference to retrieve the full content]\n%s", refID, summary)
	d.replacements[refID] = rendered
	m.Content = rendered
	return m
}

func (d *Distiller) evictOverflow() {
	for len(d.refOrder) > d.cfg.MaxReferences {
		oldest := d.refOrder[0]
		d.refOrder = d.refOrder[1:]
		delete(d.byContent, d.refs[oldest])
		delete(d.refs, oldest)
		delete(d.replacements, oldest)
	}
}

// Expand returns the full content behind a reference id. The second
// return is false when the reference is unknown or already evicted.
func (d *Distiller) Expand(refID string) (string, bool) {
	content, ok := d.refs[refID]
	return content, ok
}

// Digest returns the natural-language summary of history older than
// the verbatim window. Empty until the first fold.
func (d *Distiller) Digest() string { return d.digest }

// Ratio reports distilled size over original size for observability:
// folded history counted once at fold time plus the current verbatim
// window. 1.0 when nothing has passed through yet.
func (d *Distiller) Ratio() float64 {
	original := d.originalChars + d.windowOriginal
	if original == 0 {
		return 1.0
	}
	return float64(d.distilledChars+d.windowDistilled) / float64(original)
}
