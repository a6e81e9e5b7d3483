package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/embeddings"
)

// normEpsilon replaces a vanishing L2 norm during normalisation.
const normEpsilon = 1e-12

// Record is one remembered line. Records are created only by [Store.Append]
// and never change afterwards.
type Record struct {
	ID          int64  `json:"id"`
	OwnerID     string `json:"npc_id"`
	Text        string `json:"text"`
	CreatedTick int64  `json:"timestamp"`
}

// Recollection is a ranked recall result.
type Recollection struct {
	Record

	// RawScore is the similarity reported by the index.
	RawScore float64 `json:"raw_score"`

	// Weighted is RawScore scaled by the recency decay factor.
	Weighted float64 `json:"weighted_score"`
}

// Texts returns the memory text of each recollection in rank order.
func Texts(rs []Recollection) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Text
	}
	return out
}

// Store is the memory of a single character. It is safe for concurrent use,
// although the simulation only ever touches a store from one tick at a time.
type Store struct {
	owner    string
	embedder embeddings.Provider
	index    VectorIndex

	mu      sync.Mutex
	records map[int64]Record
	nextID  int64
}

// NewStore returns an empty store for owner. index may be nil, in which case
// Append fails and Recall reports [ErrIndexUnavailable].
func NewStore(owner string, embedder embeddings.Provider, index VectorIndex) *Store {
	return &Store{
		owner:    owner,
		embedder: embedder,
		index:    index,
		records:  make(map[int64]Record),
	}
}

// Owner returns the character id that owns the store.
func (s *Store) Owner() string { return s.owner }

// Index returns the underlying similarity index.
func (s *Store) Index() VectorIndex { return s.index }

// NextID returns the key the next appended record will receive.
func (s *Store) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns a copy of all records ordered by id.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Append embeds text and stores it as a new record created at tick. On error
// neither the index nor the record map is modified.
func (s *Store) Append(ctx context.Context, text string, tick int64) (int64, error) {
	if s.index == nil {
		return 0, ErrIndexUnavailable
	}
	vec, err := s.embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("memory: append for %q: %w", s.owner, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	if err := s.index.Add(ctx, id, vec); err != nil {
		return 0, fmt.Errorf("memory: append for %q: index add: %w", s.owner, err)
	}
	s.records[id] = Record{ID: id, OwnerID: s.owner, Text: text, CreatedTick: tick}
	s.nextID = id + 1
	return id, nil
}

// Recall ranks the stored memories against query as seen at tick now.
//
// Up to K candidates are fetched from the index, candidates that are unknown
// or owned by another character are dropped, and each survivor is weighted by
// [Decay]. The TopN survivors with a strictly positive weighted score are
// returned, best first. An empty store yields an empty result and no error.
func (s *Store) Recall(ctx context.Context, query string, now int64, opts ...RecallOption) ([]Recollection, error) {
	if s.index == nil {
		return nil, ErrIndexUnavailable
	}
	o := applyRecallOptions(opts)

	n, err := s.index.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: recall for %q: %w: %w", s.owner, ErrIndexUnavailable, err)
	}
	if n == 0 {
		return nil, nil
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: recall for %q: %w", s.owner, err)
	}
	hits, err := s.index.Search(ctx, vec, o.K)
	if err != nil {
		return nil, fmt.Errorf("memory: recall for %q: search: %w", s.owner, err)
	}

	s.mu.Lock()
	candidates := make([]Recollection, 0, len(hits))
	for _, h := range hits {
		if o.MinScore != nil && h.Score < *o.MinScore {
			continue
		}
		rec, ok := s.records[h.ID]
		if !ok || rec.OwnerID != s.owner {
			continue
		}
		decay := Decay(o.DecayRate, now-rec.CreatedTick)
		candidates = append(candidates, Recollection{
			Record:   rec,
			RawScore: h.Score,
			Weighted: h.Score * decay,
		})
	}
	s.mu.Unlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Weighted > candidates[j].Weighted
	})

	out := make([]Recollection, 0, o.TopN)
	for _, c := range candidates {
		if len(out) == o.TopN {
			break
		}
		if c.Weighted > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

// Decay returns the linear recency factor max(0, 1 - rate*age). Negative ages
// are treated as zero.
func Decay(rate float64, age int64) float64 {
	if age < 0 {
		age = 0
	}
	return math.Max(0, 1-rate*float64(age))
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("embed: no embeddings provider")
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if dims := s.index.Dimensions(); dims > 0 && len(vec) != dims {
		return nil, fmt.Errorf("embed: got %d components, want %d: %w", len(vec), dims, ErrDimensionMismatch)
	}
	return Normalize(vec), nil
}

// Normalize returns a unit-length copy of vec. A zero vector is divided by a
// tiny epsilon instead of its norm and therefore stays zero.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm < normEpsilon {
		norm = normEpsilon
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// restore replaces the record map. Used by [Load].
func (s *Store) restore(records map[int64]Record, nextID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.nextID = nextID
}
