// Package memory implements the per-character recollection store used by
// murmur NPCs.
//
// A [Store] owns one [VectorIndex] plus the record map that resolves index
// keys back to memory text. Records are appended with the simulation tick
// they were created at and recalled with a linear recency decay so that fresh,
// weakly similar memories outrank stale, strongly similar ones.
//
// The index itself is a capability interface. Implementations live in
// sub-packages:
//
//   - flat: brute-force in-memory inner-product search with a compressed
//     binary snapshot format
//   - sqlite: persisted vectors in a SQLite database (pure Go driver)
//   - postgres: persisted vectors in PostgreSQL using pgvector
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"io"
)

// ErrIndexUnavailable is returned when a store has no similarity index to
// search. Callers treat it as "no memories" rather than a hard failure.
var ErrIndexUnavailable = errors.New("memory: index unavailable")

// ErrDimensionMismatch is returned when a vector does not match the index
// dimensionality.
var ErrDimensionMismatch = errors.New("memory: dimension mismatch")

// Hit is a single k-nearest-neighbour candidate returned by [VectorIndex.Search].
type Hit struct {
	// ID is the key the vector was inserted under.
	ID int64

	// Score is the inner product between the query and the stored vector.
	// For unit vectors this equals cosine similarity in [-1, 1].
	Score float64
}

// VectorIndex is the abstraction over a similarity index keyed by int64 ids.
//
// Search returns at most k hits ordered by descending Score. Ties keep
// insertion order.
type VectorIndex interface {
	// Add inserts vec under id. Re-adding an existing id replaces its vector.
	Add(ctx context.Context, id int64, vec []float32) error

	// Search returns up to k nearest neighbours of query by inner product.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)

	// Len reports the number of vectors held by the index.
	Len(ctx context.Context) (int, error)

	// Dimensions returns the fixed vector length accepted by the index.
	Dimensions() int
}

// IndexFactory opens (or creates) the index for one character. namespace is
// stable across process restarts for the same save slot and character, so
// persisted backends can reattach to their rows.
type IndexFactory func(ctx context.Context, namespace string, dims int) (VectorIndex, error)

// Snapshotter is implemented by indexes whose contents live in process memory
// and must be written to a blob to survive a restart.
type Snapshotter interface {
	WriteSnapshot(w io.Writer) error
	ReadSnapshot(r io.Reader) error
}
