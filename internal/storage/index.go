package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mailkeep/mailkeep/internal/types"
)

// Snapshot is one loaded copy of the archive index. It is mutated in
// place and persisted back whole; there are no partial updates. A side
// map from entry id to slice position avoids linear scans on lookup and
// is rebuilt on load rather than serialized.
type Snapshot struct {
	index types.Index
	pos   map[string]int
}

// NewSnapshot wraps an index value, rebuilding the position map.
func NewSnapshot(idx types.Index) *Snapshot {
	s := &Snapshot{index: idx}
	s.rebuild()
	return s
}

func (s *Snapshot) rebuild() {
	s.pos = make(map[string]int, len(s.index.Entries))
	for i, e := range s.index.Entries {
		s.pos[e.ID] = i
	}
}

// Entries exposes the underlying slice in insertion order. Callers must
// not reorder it; use Remove/Append for mutations.
func (s *Snapshot) Entries() []types.Entry {
	return s.index.Entries
}

// TotalSize returns the aggregate byte usage tracked by the index.
func (s *Snapshot) TotalSize() int64 {
	return s.index.TotalSize
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	return len(s.index.Entries)
}

// Get looks up an entry by id.
func (s *Snapshot) Get(id string) (types.Entry, bool) {
	i, ok := s.pos[id]
	if !ok {
		return types.Entry{}, false
	}
	return s.index.Entries[i], true
}

// Append adds a new entry and grows TotalSize by its contribution.
func (s *Snapshot) Append(e types.Entry) {
	s.pos[e.ID] = len(s.index.Entries)
	s.index.Entries = append(s.index.Entries, e)
	s.index.TotalSize += e.Size()
}

// Remove drops an entry and shrinks TotalSize by exactly its
// contribution, clamped so the total never goes negative.
func (s *Snapshot) Remove(id string) (types.Entry, bool) {
	i, ok := s.pos[id]
	if !ok {
		return types.Entry{}, false
	}
	removed := s.index.Entries[i]
	s.index.Entries = append(s.index.Entries[:i], s.index.Entries[i+1:]...)
	delete(s.pos, id)
	for j := i; j < len(s.index.Entries); j++ {
		s.pos[s.index.Entries[j].ID] = j
	}
	s.index.TotalSize -= removed.Size()
	if s.index.TotalSize < 0 {
		s.index.TotalSize = 0
	}
	return removed, true
}

// SetStarred flips the exemption flag on an entry.
func (s *Snapshot) SetStarred(id string, starred bool) bool {
	i, ok := s.pos[id]
	if !ok {
		return false
	}
	s.index.Entries[i].Starred = starred
	return true
}

// IndexStore loads and persists the whole-snapshot archive index.
type IndexStore struct {
	kv KV
}

// NewIndexStore wires the index store to a KV backend.
func NewIndexStore(kv KV) *IndexStore {
	return &IndexStore{kv: kv}
}

// Load reads the current snapshot. An absent key yields an empty index.
func (s *IndexStore) Load(ctx context.Context) (*Snapshot, error) {
	raw, err := s.kv.Get(ctx, IndexKey)
	if err != nil {
		if IsNotFound(err) {
			return NewSnapshot(types.Index{}), nil
		}
		return nil, fmt.Errorf("load index: %w", err)
	}

	var idx types.Index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return NewSnapshot(idx), nil
}

// Save persists the snapshot back whole. Two racing writers lose updates
// last-write-wins; acceptable for a single archive per deployment.
func (s *IndexStore) Save(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap.index)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := s.kv.Put(ctx, IndexKey, payload, 0); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}
