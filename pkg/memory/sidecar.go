package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
)

// SidecarEntry is one record in the persisted sidecar mapping.
type SidecarEntry struct {
	Text      string `json:"text"`
	NPCID     string `json:"npc_id"`
	Timestamp int64  `json:"timestamp"`
}

// Sidecar is the persisted form of a store's record map. Keys of Mapping are
// decimal record ids. The on-disk layout is:
//
//	{"timestamp": 12, "mapping": {"0": {"text": "...", "npc_id": "...", "timestamp": 3}}}
type Sidecar struct {
	// Timestamp is the tick at which the sidecar was written.
	Timestamp int64                   `json:"timestamp"`
	Mapping   map[string]SidecarEntry `json:"mapping"`
}

// Sidecar snapshots the record map at tick.
func (s *Store) Sidecar(tick int64) Sidecar {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := Sidecar{Timestamp: tick, Mapping: make(map[string]SidecarEntry, len(s.records))}
	for id, r := range s.records {
		sc.Mapping[strconv.FormatInt(id, 10)] = SidecarEntry{
			Text:      r.Text,
			NPCID:     r.OwnerID,
			Timestamp: r.CreatedTick,
		}
	}
	return sc
}

// WriteSidecar encodes the sidecar for tick to w.
func (s *Store) WriteSidecar(w io.Writer, tick int64) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.Sidecar(tick)); err != nil {
		return fmt.Errorf("memory: write sidecar for %q: %w", s.owner, err)
	}
	return nil
}

// ReadSidecar decodes a sidecar document.
func ReadSidecar(r io.Reader) (Sidecar, error) {
	var sc Sidecar
	if err := json.NewDecoder(r).Decode(&sc); err != nil {
		return Sidecar{}, fmt.Errorf("memory: read sidecar: %w", err)
	}
	if sc.Mapping == nil {
		sc.Mapping = map[string]SidecarEntry{}
	}
	return sc, nil
}

// Restore replaces the store's records with the sidecar contents. The index
// must already hold the matching vectors.
//
// The next id becomes max(key)+1. When the mapping is empty but the index is
// not, the index element count is used instead and a warning is logged.
// Entries without an npc_id are attributed to the store owner.
func (s *Store) Restore(ctx context.Context, sc Sidecar) error {
	records := make(map[int64]Record, len(sc.Mapping))
	next := int64(0)
	for key, e := range sc.Mapping {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("memory: restore %q: bad key %q: %w", s.owner, key, err)
		}
		owner := e.NPCID
		if owner == "" {
			owner = s.owner
		}
		records[id] = Record{ID: id, OwnerID: owner, Text: e.Text, CreatedTick: e.Timestamp}
		if id+1 > next {
			next = id + 1
		}
	}

	if len(records) == 0 && s.index != nil {
		n, err := s.index.Len(ctx)
		if err != nil {
			return fmt.Errorf("memory: restore %q: index len: %w", s.owner, err)
		}
		if n > 0 {
			slog.Warn("memory: sidecar mapping empty but index is not; continuing from index size",
				"npc_id", s.owner,
				"index_len", n,
			)
			next = int64(n)
		}
	}

	s.restore(records, next)
	return nil
}
