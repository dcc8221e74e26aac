package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxbench/callpipeline/pkg/memory"
)

var _ memory.SessionStore = (*SessionStoreImpl)(nil)

// NewSessionStore connects to the PostgreSQL database at dsn, runs [Migrate]
// to ensure the session_entries table exists, and returns a ready-to-use
// [SessionStoreImpl]. Call Close when the store is no longer needed.
func NewSessionStore(ctx context.Context, dsn string) (*SessionStoreImpl, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres session store: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres session store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &SessionStoreImpl{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *SessionStoreImpl) Close() {
	s.pool.Close()
}
