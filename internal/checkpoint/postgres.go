package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"lifelog/internal/state"
)

// PostgresStore is the client-server backend, multi-process-safe. It
// auto-provisions its own schema on first connection; no external
// migration step is required.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	closeOnce sync.Once
}

// NewPostgresStore connects with a small pool and provisions the
// checkpoint table.
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Debug("postgres checkpoint store ready")
	return s, nil
}

func (s *PostgresStore) initialize(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id  TEXT PRIMARY KEY,
			state      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to initialize checkpoint schema: %w", err)
	}
	return nil
}

// Get loads the state blob for a thread, or (nil, nil) when absent.
func (s *PostgresStore) Get(ctx context.Context, threadID string) (*state.State, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx,
		"SELECT state FROM checkpoints WHERE thread_id = $1", threadID,
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint for %s: %w", threadID, err)
	}
	return state.Unmarshal(blob)
}

// Put upserts the full state blob for a thread in a single statement.
func (s *PostgresStore) Put(ctx context.Context, threadID string, st *state.State) error {
	blob, err := st.Marshal()
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (thread_id, state, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (thread_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = now()`,
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

// Close releases the pool. Safe to call more than once.
func (s *PostgresStore) Close() error {
	s.closeOnce.Do(func() {
		if s.pool != nil {
			s.pool.Close()
		}
	})
	return nil
}
