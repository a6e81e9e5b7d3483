// Package sqlite provides a persisted [memory.VectorIndex] backed by a SQLite
// database through the pure-Go modernc.org/sqlite driver.
//
// All characters of all save slots share one database file; each index is
// scoped by a namespace string. Vectors are stored as little-endian float32
// blobs and scored in Go, which keeps the database free of extensions.
//
// Usage:
//
//	db, err := sqlite.Open("murmur.db")
//	if err != nil { … }
//	defer db.Close()
//
//	idx, err := db.Index("slot-1/malrik_merchant", 384)
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/murmur/pkg/memory"
)

var _ memory.VectorIndex = (*Index)(nil)

// DB is a handle on the SQLite file holding every vector namespace.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Single writer; also keeps ":memory:" pinned to one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Ping checks the database connection. Used by readiness probes.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Index returns the vector index for namespace.
func (d *DB) Index(namespace string, dims int) (*Index, error) {
	if namespace == "" {
		return nil, fmt.Errorf("sqlite: namespace must not be empty")
	}
	if dims <= 0 {
		return nil, fmt.Errorf("sqlite: dimensions must be positive, got %d", dims)
	}
	return &Index{db: d.db, namespace: namespace, dims: dims}, nil
}

// Factory adapts [DB.Index] to a [memory.IndexFactory].
func (d *DB) Factory() memory.IndexFactory {
	return func(_ context.Context, namespace string, dims int) (memory.VectorIndex, error) {
		return d.Index(namespace, dims)
	}
}

// Index is one namespace inside a [DB]. Safe for concurrent use.
type Index struct {
	db        *sql.DB
	namespace string
	dims      int
}

// Add implements [memory.VectorIndex].
func (x *Index) Add(ctx context.Context, id int64, vec []float32) error {
	if len(vec) != x.dims {
		return fmt.Errorf("sqlite: add %d: got %d components, want %d: %w", id, len(vec), x.dims, memory.ErrDimensionMismatch)
	}
	blob, err := encodeVector(vec)
	if err != nil {
		return fmt.Errorf("sqlite: add %d: %w", id, err)
	}
	const q = `
		INSERT INTO vectors (namespace, id, dims, vec)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, id) DO UPDATE SET
		    dims = excluded.dims,
		    vec  = excluded.vec`
	if _, err := x.db.ExecContext(ctx, q, x.namespace, id, x.dims, blob); err != nil {
		return fmt.Errorf("sqlite: add %d: %w", id, err)
	}
	return nil
}

// Search implements [memory.VectorIndex]. Rows are scored in insertion order
// so that equal scores keep that order after the stable sort.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]memory.Hit, error) {
	if len(query) != x.dims {
		return nil, fmt.Errorf("sqlite: search: got %d components, want %d: %w", len(query), x.dims, memory.ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := x.db.QueryContext(ctx,
		`SELECT id, vec FROM vectors WHERE namespace = ? ORDER BY seq`, x.namespace)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()

	var hits []memory.Hit
	for rows.Next() {
		var (
			id   int64
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: search: scan: %w", err)
		}
		vec, err := decodeVector(blob, x.dims)
		if err != nil {
			return nil, fmt.Errorf("sqlite: search: row %d: %w", id, err)
		}
		var score float64
		for i := range query {
			score += float64(query[i]) * float64(vec[i])
		}
		hits = append(hits, memory.Hit{ID: id, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len implements [memory.VectorIndex].
func (x *Index) Len(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vectors WHERE namespace = ?`, x.namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: len: %w", err)
	}
	return n, nil
}

// Dimensions implements [memory.VectorIndex].
func (x *Index) Dimensions() int { return x.dims }

func encodeVector(vec []float32) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(4 * len(vec))
	if err := binary.Write(&buf, binary.LittleEndian, vec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeVector(blob []byte, dims int) ([]float32, error) {
	if len(blob) != 4*dims {
		return nil, fmt.Errorf("blob has %d bytes, want %d: %w", len(blob), 4*dims, memory.ErrDimensionMismatch)
	}
	vec := make([]float32, dims)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, vec); err != nil {
		return nil, err
	}
	return vec, nil
}
