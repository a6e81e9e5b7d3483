package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlVectors returns the vector table DDL with the embedding dimension
// substituted. The dimension is baked into the column type at schema creation
// time.
func ddlVectors(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_vectors (
    seq         BIGSERIAL    PRIMARY KEY,
    namespace   TEXT         NOT NULL,
    id          BIGINT       NOT NULL,
    embedding   vector(%d)   NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (namespace, id)
);

CREATE INDEX IF NOT EXISTS idx_memory_vectors_namespace
    ON memory_vectors (namespace);

CREATE INDEX IF NOT EXISTS idx_memory_vectors_embedding
    ON memory_vectors USING hnsw (embedding vector_ip_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the vector table and the pgvector extension
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embeddings model. Changing it
// after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlVectors(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
