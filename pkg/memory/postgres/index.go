package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/murmur/pkg/memory"
)

// Index is one namespace of the memory_vectors table with an HNSW inner
// product index for nearest-neighbour search.
//
// Obtain one via [Store.Index] rather than constructing directly.
type Index struct {
	pool      *pgxpool.Pool
	namespace string
	dims      int
}

// Add implements [memory.VectorIndex]. Re-adding an id replaces its vector.
func (x *Index) Add(ctx context.Context, id int64, vec []float32) error {
	if len(vec) != x.dims {
		return fmt.Errorf("vector index: add %d: got %d components, want %d: %w", id, len(vec), x.dims, memory.ErrDimensionMismatch)
	}
	const q = `
		INSERT INTO memory_vectors (namespace, id, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (namespace, id) DO UPDATE SET
		    embedding = EXCLUDED.embedding`

	if _, err := x.pool.Exec(ctx, q, x.namespace, id, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("vector index: add %d: %w", id, err)
	}
	return nil
}

// Search implements [memory.VectorIndex]. pgvector's <#> operator yields the
// negated inner product, so ascending order is most similar first.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]memory.Hit, error) {
	if len(query) != x.dims {
		return nil, fmt.Errorf("vector index: search: got %d components, want %d: %w", len(query), x.dims, memory.ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	const q = `
		SELECT id, (embedding <#> $1) * -1 AS score
		FROM   memory_vectors
		WHERE  namespace = $2
		ORDER  BY embedding <#> $1, seq
		LIMIT  $3`

	rows, err := x.pool.Query(ctx, q, pgvector.NewVector(query), x.namespace, k)
	if err != nil {
		return nil, fmt.Errorf("vector index: search: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Hit, error) {
		var h memory.Hit
		if err := row.Scan(&h.ID, &h.Score); err != nil {
			return memory.Hit{}, err
		}
		return h, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector index: scan rows: %w", err)
	}
	return hits, nil
}

// Len implements [memory.VectorIndex].
func (x *Index) Len(ctx context.Context) (int, error) {
	var n int
	if err := x.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM memory_vectors WHERE namespace = $1`, x.namespace).Scan(&n); err != nil {
		return 0, fmt.Errorf("vector index: len: %w", err)
	}
	return n, nil
}

// Dimensions implements [memory.VectorIndex].
func (x *Index) Dimensions() int { return x.dims }
