// Package journal is the SQLite-backed entry store the default tool
// bridge operates on. Entries are keyed by ISO date plus a category
// (meal, workout, sleep, health, note) and hold free-form text with an
// optional structured detail blob.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Entry is one recorded life event.
type Entry struct {
	ID        string          `json:"id"`
	Date      string          `json:"date"` // YYYY-MM-DD
	Category  string          `json:"category"`
	Text      string          `json:"text"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Categories the store accepts. Anything else is rejected at write
// time so queries stay enumerable.
var Categories = []string{"meal", "workout", "sleep", "health", "mood", "note"}

// Store persists journal entries in a single-connection SQLite
// database, serialized by a mutex the same way the thread ledger is.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open creates (if needed) and opens the journal database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
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

	s := &Store{db: db, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id         TEXT PRIMARY KEY,
			entry_date TEXT NOT NULL,
			category   TEXT NOT NULL,
			body       TEXT NOT NULL,
			detail     TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(entry_date)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_category_date ON entries(category, entry_date)`,
		`CREATE TABLE IF NOT EXISTS profile (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize journal schema: %w", err)
		}
	}
	return nil
}

func validCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Create records a new entry and returns it with id and timestamp set.
func (s *Store) Create(ctx context.Context, date, category, text string, detail json.RawMessage) (*Entry, error) {
	if !validCategory(category) {
		return nil, fmt.Errorf("unknown category %q (want one of %s)", category, strings.Join(Categories, ", "))
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("entry text is empty")
	}

	e := &Entry{
		ID:        uuid.NewString(),
		Date:      date,
		Category:  category,
		Text:      strings.TrimSpace(text),
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, entry_date, category, body, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Date, e.Category, e.Text, nullableJSON(e.Detail), e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return e, nil
}

// ByDate returns the day's entries in creation order, optionally
// filtered by category.
func (s *Store) ByDate(ctx context.Context, date, category string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, entry_date, category, body, detail, created_at
	          FROM entries WHERE entry_date = ?`
	args := []any{date}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Search matches entry text by substring, most recent first.
func (s *Store) Search(ctx context.Context, text string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entry_date, category, body, detail, created_at
		 FROM entries WHERE body LIKE ?
		 ORDER BY entry_date DESC, created_at DESC LIMIT ?`,
		"%"+text+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search journal entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Range returns entries between from and to inclusive, oldest first.
func (s *Store) Range(ctx context.Context, from, to, category string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, entry_date, category, body, detail, created_at
	          FROM entries WHERE entry_date >= ? AND entry_date <= ?`
	args := []any{from, to}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY entry_date ASC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal range: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Delete removes an entry by id. Missing ids are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete journal entry: %w", err)
	}
	return nil
}

// Profile returns the stored user profile text, empty when unset.
func (s *Store) Profile(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM profile WHERE key = 'about'`).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read profile: %w", err)
	}
	return value, nil
}

// SetProfile replaces the user profile text.
func (s *Store) SetProfile(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profile (key, value) VALUES ('about', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, text)
	if err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

// Close is idempotent.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Date, &e.Category, &e.Text, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if detail.Valid && detail.String != "" {
			e.Detail = json.RawMessage(detail.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
