package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"lifelog/internal/state"
)

// SQLiteStore is the embedded single-file backend. It is durable across
// process restarts and single-writer: the connection pool is pinned to
// one connection and writes are additionally serialized by a mutex.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewSQLiteStore opens (creating if needed) the checkpoint database at
// path and provisions its schema.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
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

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("sqlite checkpoint store ready", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id  TEXT PRIMARY KEY,
			state      BLOB NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to initialize checkpoint schema: %w", err)
	}
	return nil
}

// Get loads the state blob for a thread, or (nil, nil) when absent.
func (s *SQLiteStore) Get(ctx context.Context, threadID string) (*state.State, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM checkpoints WHERE thread_id = ?", threadID,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint for %s: %w", threadID, err)
	}
	return state.Unmarshal(blob)
}

// Put writes the full state blob for a thread in a single statement.
func (s *SQLiteStore) Put(ctx context.Context, threadID string, st *state.State) error {
	blob, err := st.Marshal()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, state, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(thread_id) DO UPDATE SET
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP`,
		threadID, blob,
	)
	if err != nil {
		return fmt.Errorf("failed to store checkpoint for %s: %w", threadID, err)
	}
	s.logger.Debug("checkpoint written",
		zap.String("thread_id", threadID),
		zap.Int("blob_bytes", len(blob)))
	return nil
}

// Close closes the database. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			s.closeErr = s.db.Close()
		}
	})
	return s.closeErr
}
