package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const entryColumns = `thread_id, title, created_at, last_updated, message_count,
	total_input_tokens, total_output_tokens, mode, target_date,
	model_provider, model_name, is_deleted, emoji`

func scanEntry(row interface{ Scan(...any) error }) (Entry, error) {
	var e Entry
	var deleted int
	err := row.Scan(&e.ThreadID, &e.Title, &e.CreatedAt, &e.LastUpdated,
		&e.MessageCount, &e.TotalInputTokens, &e.TotalOutputTokens,
		&e.Mode, &e.TargetDate, &e.ModelProvider, &e.ModelName,
		&deleted, &e.Emoji)
	e.IsDeleted = deleted != 0
	return e, err
}

// Get returns one thread's metadata, or (nil, nil) when absent.
func (l *Ledger) Get(ctx context.Context, threadID string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM thread_metadata WHERE thread_id = ?", threadID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}
	return &e, nil
}

// List returns threads by recency. Soft-deleted threads are excluded
// unless includeDeleted is set.
func (l *Ledger) List(ctx context.Context, limit int, includeDeleted bool) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + entryColumns + " FROM thread_metadata"
	if !includeDeleted {
		query += " WHERE is_deleted = 0"
	}
	query += " ORDER BY last_updated DESC LIMIT ?"

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Search returns non-deleted threads whose title matches the query
// text, most recent first.
func (l *Ledger) Search(ctx context.Context, text string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		"SELECT "+entryColumns+` FROM thread_metadata
		 WHERE is_deleted = 0 AND title LIKE '%' || ? || '%'
		 ORDER BY last_updated DESC LIMIT ?`,
		text, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search threads: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ByDate returns non-deleted threads bound to a resolved target date.
func (l *Ledger) ByDate(ctx context.Context, date string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT "+entryColumns+` FROM thread_metadata
		 WHERE is_deleted = 0 AND target_date = ?
		 ORDER BY last_updated DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to filter threads by date: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SoftDelete flags a thread as deleted. The row and its usage ledger
// history remain.
func (l *Ledger) SoftDelete(ctx context.Context, threadID string) error {
	return l.setDeleted(ctx, threadID, 1)
}

// Restore clears the soft-delete flag.
func (l *Ledger) Restore(ctx context.Context, threadID string) error {
	return l.setDeleted(ctx, threadID, 0)
}

func (l *Ledger) setDeleted(ctx context.Context, threadID string, flag int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, err := l.db.ExecContext(ctx,
		"UPDATE thread_metadata SET is_deleted = ?, last_updated = CURRENT_TIMESTAMP WHERE thread_id = ?",
		flag, threadID,
	)
	if err != nil {
		return fmt.Errorf("failed to update delete flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("thread %s not found", threadID)
	}
	return nil
}

// SetEmoji assigns a display emoji to a thread.
func (l *Ledger) SetEmoji(ctx context.Context, threadID, emoji string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx,
		"UPDATE thread_metadata SET emoji = ? WHERE thread_id = ?", emoji, threadID)
	if err != nil {
		return fmt.Errorf("failed to set emoji: %w", err)
	}
	return nil
}

// ModelTotals aggregates usage over a time range, grouped by model.
// Rows survive thread deletion, so this is the source of truth for
// historical cost reporting.
type ModelTotals struct {
	ModelProvider string
	ModelName     string
	InputTokens   int
	OutputTokens  int
	Calls         int
}

// UsageByModel aggregates the usage ledger between from and to
// (inclusive), using the (model_name, timestamp) index.
func (l *Ledger) UsageByModel(ctx context.Context, from, to time.Time) ([]ModelTotals, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT model_provider, model_name,
			SUM(input_tokens), SUM(output_tokens), COUNT(*)
		FROM usage_ledger
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY model_provider, model_name
		ORDER BY SUM(input_tokens) + SUM(output_tokens) DESC`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	var totals []ModelTotals
	for rows.Next() {
		var t ModelTotals
		if err := rows.Scan(&t.ModelProvider, &t.ModelName, &t.InputTokens, &t.OutputTokens, &t.Calls); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// UsageRows returns raw ledger rows for a thread, oldest first.
func (l *Ledger) UsageRows(ctx context.Context, threadID string) ([]UsageRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, thread_id, model_provider, model_name, input_tokens, output_tokens
		FROM usage_ledger WHERE thread_id = ? ORDER BY id`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage rows: %w", err)
	}
	defer rows.Close()

	var out []UsageRow
	for rows.Next() {
		var r UsageRow
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.ThreadID, &r.ModelProvider, &r.ModelName, &r.InputTokens, &r.OutputTokens); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
