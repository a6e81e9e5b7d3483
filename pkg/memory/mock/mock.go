// Package mock provides a test double for [memory.VectorIndex].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent use
// via an internal [sync.Mutex].
//
// Typical usage:
//
//	idx := &mock.Index{DimensionsValue: 3, LenResult: 2}
//	idx.SearchResult = []memory.Hit{{ID: 7, Score: 0.9}}
//
//	// inject idx into a memory.Store …
//
//	if got := idx.CallCount("Search"); got != 1 {
//	    t.Errorf("expected 1 Search call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Index is a configurable test double for [memory.VectorIndex].
type Index struct {
	mu sync.Mutex

	calls []Call

	// AddErr is returned by [Index.Add] when non-nil.
	AddErr error

	// SearchResult is returned by [Index.Search], truncated to k.
	SearchResult []memory.Hit

	// SearchErr is returned by [Index.Search] when non-nil.
	SearchErr error

	// LenResult is returned by [Index.Len]. Successful Add calls increment it.
	LenResult int

	// LenErr is returned by [Index.Len] when non-nil.
	LenErr error

	// DimensionsValue is returned by [Index.Dimensions].
	DimensionsValue int
}

var _ memory.VectorIndex = (*Index)(nil)

func (m *Index) record(method string, args ...any) {
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// Add records the call and returns AddErr.
func (m *Index) Add(_ context.Context, id int64, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]float32, len(vec))
	copy(cp, vec)
	m.record("Add", id, cp)
	if m.AddErr != nil {
		return m.AddErr
	}
	m.LenResult++
	return nil
}

// Search records the call and returns SearchResult, SearchErr.
func (m *Index) Search(_ context.Context, query []float32, k int) ([]memory.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Search", query, k)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	out := m.SearchResult
	if len(out) > k {
		out = out[:k]
	}
	return append([]memory.Hit(nil), out...), nil
}

// Len records the call and returns LenResult, LenErr.
func (m *Index) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Len")
	return m.LenResult, m.LenErr
}

// Dimensions returns DimensionsValue. It is not recorded.
func (m *Index) Dimensions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DimensionsValue
}

// Calls returns a copy of all recorded calls.
func (m *Index) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns the number of recorded calls to method.
func (m *Index) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls. Thread-safe.
func (m *Index) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
