// Package postgres provides a PostgreSQL-backed [memory.VectorIndex] using the
// pgvector extension.
//
// One [Store] holds a single [pgxpool.Pool] shared by every character index.
// Each index is scoped by a namespace column, so all NPCs of all save slots
// live in one table. [Migrate] installs the extension automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	idx := store.Index("slot-1/malrik_merchant")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/murmur/pkg/memory"
)

var _ memory.VectorIndex = (*Index)(nil)

// Store is the PostgreSQL connection shared by all vector namespaces.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// NewStore creates a connection pool to the database at dsn, registers
// pgvector types on every connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	if embeddingDimensions <= 0 {
		return nil, fmt.Errorf("postgres store: dimensions must be positive, got %d", embeddingDimensions)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool, dims: embeddingDimensions}, nil
}

// Index returns the vector index for namespace.
func (s *Store) Index(namespace string) *Index {
	return &Index{pool: s.pool, namespace: namespace, dims: s.dims}
}

// Factory adapts [Store.Index] to a [memory.IndexFactory]. The requested
// dimensionality must equal the one the schema was migrated with.
func (s *Store) Factory() memory.IndexFactory {
	return func(_ context.Context, namespace string, dims int) (memory.VectorIndex, error) {
		if dims != s.dims {
			return nil, fmt.Errorf("postgres store: index %q wants %d dimensions, schema has %d: %w",
				namespace, dims, s.dims, memory.ErrDimensionMismatch)
		}
		return s.Index(namespace), nil
	}
}

// Ping checks the connection pool. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
