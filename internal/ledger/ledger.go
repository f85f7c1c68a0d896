// Package ledger maintains the secondary index over conversation
// threads and the append-only usage ledger. It is independent of the
// checkpoint store: the engine's only write path into it is
// SyncFromState, which is idempotent and computed purely from a state
// snapshot.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"lifelog/internal/state"
)

// DefaultTitle is the placeholder for threads whose first turn has not
// completed. A non-default title is never overwritten by this value.
const DefaultTitle = "New conversation"

// titleMaxLen bounds titles derived from the first user message.
const titleMaxLen = 60

// Entry is one thread's metadata row.
type Entry struct {
	ThreadID          string
	Title             string
	CreatedAt         time.Time
	LastUpdated       time.Time
	MessageCount      int
	TotalInputTokens  int
	TotalOutputTokens int
	Mode              string
	TargetDate        string
	ModelProvider     string
	ModelName         string
	IsDeleted         bool
	Emoji             string
}

// UsageRow is one append-only usage ledger row.
type UsageRow struct {
	ID            int64
	Timestamp     time.Time
	ThreadID      string
	ModelProvider string
	ModelName     string
	InputTokens   int
	OutputTokens  int
}

// Ledger wraps the thread metadata and usage tables. All writes are
// serialized by a mutex on top of the single-connection pool.
type Ledger struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open creates (if needed) and opens the ledger database at path.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	l := &Ledger{db: db, logger: logger}
	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initialize() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS thread_metadata (
			thread_id           TEXT PRIMARY KEY,
			title               TEXT NOT NULL DEFAULT '',
			created_at          DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_updated        DATETIME DEFAULT CURRENT_TIMESTAMP,
			message_count       INTEGER NOT NULL DEFAULT 0,
			total_input_tokens  INTEGER NOT NULL DEFAULT 0,
			total_output_tokens INTEGER NOT NULL DEFAULT 0,
			mode                TEXT NOT NULL DEFAULT 'idle',
			target_date         TEXT NOT NULL DEFAULT '',
			model_provider      TEXT NOT NULL DEFAULT '',
			model_name          TEXT NOT NULL DEFAULT '',
			is_deleted          INTEGER NOT NULL DEFAULT 0,
			emoji               TEXT NOT NULL DEFAULT '',
			usage_synced        INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS usage_ledger (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      DATETIME NOT NULL,
			thread_id      TEXT NOT NULL,
			model_provider TEXT NOT NULL,
			model_name     TEXT NOT NULL,
			input_tokens   INTEGER NOT NULL,
			output_tokens  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_ledger (timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_model_time ON usage_ledger (model_name, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize ledger schema: %w", err)
		}
	}
	return nil
}

// deriveTitle computes a thread title from a state snapshot: the first
// user message truncated, or DefaultTitle when the thread is empty.
func deriveTitle(st *state.State) string {
	first := strings.TrimSpace(st.FirstUserMessage())
	if first == "" {
		return DefaultTitle
	}
	first = strings.Join(strings.Fields(first), " ")
	if len(first) > titleMaxLen {
		cut := titleMaxLen - 1
		for cut > 0 && !utf8.RuneStart(first[cut]) {
			cut--
		}
		first = first[:cut] + "…"
	}
	return first
}

// SyncFromState is the engine's one write path: it upserts the thread's
// metadata from the snapshot and appends any usage records past the
// per-thread watermark into the usage ledger. Calling it twice with the
// same state is a no-op for the usage ledger and an idempotent upsert
// for the metadata.
func (l *Ledger) SyncFromState(ctx context.Context, threadID string, st *state.State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ledger sync: %w", err)
	}
	defer tx.Rollback()

	title := deriveTitle(st)

	provider, model := "", ""
	totalIn, totalOut := 0, 0
	for _, u := range st.UsageRecords {
		totalIn += u.InputTokens
		totalOut += u.OutputTokens
		provider, model = u.Provider, u.Model
	}

	// Title stickiness: a previously-set non-default title is never
	// replaced by the default placeholder.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO thread_metadata
			(thread_id, title, last_updated, message_count,
			 total_input_tokens, total_output_tokens, mode, target_date,
			 model_provider, model_name)
		VALUES (?, ?, CURRENT_TIMESTAMP, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			title = CASE
				WHEN excluded.title = ? AND thread_metadata.title != '' AND thread_metadata.title != ?
					THEN thread_metadata.title
				ELSE excluded.title
			END,
			last_updated        = CURRENT_TIMESTAMP,
			message_count       = excluded.message_count,
			total_input_tokens  = excluded.total_input_tokens,
			total_output_tokens = excluded.total_output_tokens,
			mode                = excluded.mode,
			target_date         = excluded.target_date,
			model_provider      = CASE WHEN excluded.model_provider != '' THEN excluded.model_provider ELSE thread_metadata.model_provider END,
			model_name          = CASE WHEN excluded.model_name != '' THEN excluded.model_name ELSE thread_metadata.model_name END`,
		threadID, title, len(st.Messages), totalIn, totalOut,
		string(st.Mode), st.TargetDate, provider, model,
		DefaultTitle, DefaultTitle,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert thread metadata: %w", err)
	}

	// Append usage records past the watermark. The watermark is the
	// count of state usage records already persisted for this thread,
	// so replaying the same snapshot inserts nothing.
	var synced int
	if err := tx.QueryRowContext(ctx,
		"SELECT usage_synced FROM thread_metadata WHERE thread_id = ?", threadID,
	).Scan(&synced); err != nil {
		return fmt.Errorf("failed to read usage watermark: %w", err)
	}

	if synced > len(st.UsageRecords) {
		// Watermark ahead of the snapshot means the snapshot is stale;
		// never double count, never rewind.
		l.logger.Warn("usage watermark ahead of state snapshot",
			zap.String("thread_id", threadID),
			zap.Int("watermark", synced),
			zap.Int("records", len(st.UsageRecords)))
	} else {
		for _, u := range st.UsageRecords[synced:] {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO usage_ledger (timestamp, thread_id, model_provider, model_name, input_tokens, output_tokens)
				VALUES (?, ?, ?, ?, ?, ?)`,
				u.Timestamp.UTC(), threadID, u.Provider, u.Model, u.InputTokens, u.OutputTokens,
			); err != nil {
				return fmt.Errorf("failed to append usage row: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE thread_metadata SET usage_synced = ? WHERE thread_id = ?",
			len(st.UsageRecords), threadID,
		); err != nil {
			return fmt.Errorf("failed to advance usage watermark: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger sync: %w", err)
	}
	l.logger.Debug("ledger synced",
		zap.String("thread_id", threadID),
		zap.Int("messages", len(st.Messages)),
		zap.Int("usage_records", len(st.UsageRecords)))
	return nil
}

// RecordUsage appends one usage row directly, bypassing the watermark.
// Unlike SyncFromState this path is append-only and never deduplicates:
// two identical calls produce two rows.
func (l *Ledger) RecordUsage(ctx context.Context, threadID, provider, model string, inputTokens, outputTokens int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage_ledger (timestamp, thread_id, model_provider, model_name, input_tokens, output_tokens)
		VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), threadID, provider, model, inputTokens, outputTokens,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Close closes the database. Safe to call more than once.
func (l *Ledger) Close() error {
	l.closeOnce.Do(func() {
		if l.db != nil {
			l.closeErr = l.db.Close()
		}
	})
	return l.closeErr
}
