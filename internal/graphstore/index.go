package graphstore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/alvmarrod/artist-weaver/internal/identity"
)

// IndexEntry locates one record
type IndexEntry struct {
	ID     identity.NodeID
	Offset uint64
}

// Index maps node ids to record offsets, keeping file order
type Index struct {
	entries []IndexEntry
	pos     map[identity.NodeID]int
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{pos: make(map[identity.NodeID]int)}
}

// Add appends an entry. Returns false if id is already indexed.
func (i *Index) Add(id identity.NodeID, offset uint64) bool {
	if _, ok := i.pos[id]; ok {
		return false
	}
	i.pos[id] = len(i.entries)
	i.entries = append(i.entries, IndexEntry{ID: id, Offset: offset})
	return true
}

// Lookup returns the offset of id's record
func (i *Index) Lookup(id identity.NodeID) (uint64, bool) {
	p, ok := i.pos[id]
	if !ok {
		return 0, false
	}
	return i.entries[p].Offset, true
}

// Contains reports whether id is indexed
func (i *Index) Contains(id identity.NodeID) bool {
	_, ok := i.pos[id]
	return ok
}

// Entries returns the entries in file order. The slice must not be modified.
func (i *Index) Entries() []IndexEntry {
	return i.entries
}

// Len returns the number of entries
func (i *Index) Len() int {
	return len(i.entries)
}

// WriteJSON writes the index as a {"id": offset} object
func (i *Index) WriteJSON(path string) error {
	m := make(map[string]uint64, len(i.entries))
	for _, e := range i.entries {
		m[e.ID.String()] = e.Offset
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}
