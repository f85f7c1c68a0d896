// Package checkpoint persists conversation state keyed by thread id.
// Three interchangeable backends are provided: a volatile in-process
// map, an embedded single-file SQLite store, and a PostgreSQL store
// reached through a small connection pool. Backend choice is a
// construction-time decision; the engine only sees the Store interface.
package checkpoint

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"lifelog/internal/state"
)

// Store is the persistence contract for conversation state. Get returns
// (nil, nil) when no checkpoint exists for the thread. Both operations
// are atomic per call and keyed by thread id only; there are no
// partial or field-level writes.
type Store interface {
	Get(ctx context.Context, threadID string) (*state.State, error)
	Put(ctx context.Context, threadID string, st *state.State) error

	// Close releases backend resources. It is idempotent and safe to
	// call during shutdown even if construction partially failed.
	Close() error
}

// Backend selects a checkpoint implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config selects and parameterizes a backend.
type Config struct {
	Backend Backend `yaml:"backend"`
	Path    string  `yaml:"path"` // sqlite database file
	DSN     string  `yaml:"dsn"`  // postgres connection string
}

// New constructs the configured backend. The backend kind is explicit;
// there is no runtime type probing.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite checkpoint backend requires a path")
		}
		return NewSQLiteStore(cfg.Path, logger)
	case BackendPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres checkpoint backend requires a dsn")
		}
		return NewPostgresStore(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}
