// Package flat provides an exact, in-memory inner-product [memory.VectorIndex].
//
// Search is a linear scan, which is fine for the few hundred memories a single
// NPC accumulates. The index snapshots to a zstd-compressed little-endian blob:
//
//	"MVI1" | dims uint32 | count uint32 | count × (id int64 | dims × float32)
package flat

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/MrWong99/murmur/pkg/memory"
)

var (
	_ memory.VectorIndex = (*Index)(nil)
	_ memory.Snapshotter = (*Index)(nil)
)

var magic = [4]byte{'M', 'V', 'I', '1'}

// ErrBadSnapshot is returned when a blob is not a flat index snapshot.
var ErrBadSnapshot = errors.New("flat: bad snapshot")

type entry struct {
	id  int64
	vec []float32
}

// Index is a brute-force vector index. The zero value is not usable; call [New].
type Index struct {
	dims int

	mu      sync.RWMutex
	entries []entry
	pos     map[int64]int
}

// New returns an empty index accepting vectors of length dims.
func New(dims int) *Index {
	return &Index{dims: dims, pos: make(map[int64]int)}
}

// Factory is a [memory.IndexFactory] that ignores the namespace.
func Factory(_ context.Context, _ string, dims int) (memory.VectorIndex, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("flat: dimensions must be positive, got %d", dims)
	}
	return New(dims), nil
}

// Add implements [memory.VectorIndex].
func (x *Index) Add(_ context.Context, id int64, vec []float32) error {
	if len(vec) != x.dims {
		return fmt.Errorf("flat: add %d: got %d components, want %d: %w", id, len(vec), x.dims, memory.ErrDimensionMismatch)
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)

	x.mu.Lock()
	defer x.mu.Unlock()
	if i, ok := x.pos[id]; ok {
		x.entries[i].vec = cp
		return nil
	}
	x.pos[id] = len(x.entries)
	x.entries = append(x.entries, entry{id: id, vec: cp})
	return nil
}

// Search implements [memory.VectorIndex].
func (x *Index) Search(_ context.Context, query []float32, k int) ([]memory.Hit, error) {
	if len(query) != x.dims {
		return nil, fmt.Errorf("flat: search: got %d components, want %d: %w", len(query), x.dims, memory.ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	hits := make([]memory.Hit, len(x.entries))
	for i, e := range x.entries {
		hits[i] = memory.Hit{ID: e.id, Score: dot(query, e.vec)}
	}
	x.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len implements [memory.VectorIndex].
func (x *Index) Len(context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries), nil
}

// Dimensions implements [memory.VectorIndex].
func (x *Index) Dimensions() int { return x.dims }

// WriteSnapshot implements [memory.Snapshotter].
func (x *Index) WriteSnapshot(w io.Writer) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("flat: snapshot: %w", err)
	}
	bw := bufio.NewWriter(enc)

	x.mu.RLock()
	werr := x.encode(bw)
	x.mu.RUnlock()

	if werr == nil {
		werr = bw.Flush()
	}
	if cerr := enc.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("flat: snapshot: %w", werr)
	}
	return nil
}

func (x *Index) encode(w io.Writer) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	hdr := [2]uint32{uint32(x.dims), uint32(len(x.entries))}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	for _, e := range x.entries {
		if err := binary.Write(w, binary.LittleEndian, e.id); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, e.vec); err != nil {
			return err
		}
	}
	return nil
}

// ReadSnapshot implements [memory.Snapshotter]. It replaces the index
// contents. The snapshot dimensionality must match the index.
func (x *Index) ReadSnapshot(r io.Reader) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("flat: restore: %w", err)
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	var m [4]byte
	if _, err := io.ReadFull(br, m[:]); err != nil {
		return fmt.Errorf("flat: restore: %w: %w", ErrBadSnapshot, err)
	}
	if m != magic {
		return fmt.Errorf("flat: restore: %w: magic %q", ErrBadSnapshot, m[:])
	}
	var hdr [2]uint32
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("flat: restore: header: %w", err)
	}
	if int(hdr[0]) != x.dims {
		return fmt.Errorf("flat: restore: snapshot has %d dimensions, index %d: %w", hdr[0], x.dims, memory.ErrDimensionMismatch)
	}

	entries := make([]entry, 0, hdr[1])
	pos := make(map[int64]int, hdr[1])
	for i := uint32(0); i < hdr[1]; i++ {
		e := entry{vec: make([]float32, x.dims)}
		if err := binary.Read(br, binary.LittleEndian, &e.id); err != nil {
			return fmt.Errorf("flat: restore: entry %d: %w", i, err)
		}
		if err := binary.Read(br, binary.LittleEndian, e.vec); err != nil {
			return fmt.Errorf("flat: restore: entry %d: %w", i, err)
		}
		if j, ok := pos[e.id]; ok {
			entries[j] = e
			continue
		}
		pos[e.id] = len(entries)
		entries = append(entries, e)
	}

	x.mu.Lock()
	x.entries = entries
	x.pos = pos
	x.mu.Unlock()
	return nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	if math.IsNaN(s) {
		return -1
	}
	return s
}
