package metastore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/alvmarrod/artist-weaver/internal/graphstore"
	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/alvmarrod/artist-weaver/internal/normalize"
	"github.com/alvmarrod/artist-weaver/internal/storage"
)

// ErrCorrupt is returned when a section runs past the end of the file
var ErrCorrupt = errors.New("metastore: corrupt file")

// Store is a parsed unified metadata file
type Store struct {
	Header   Header
	Forward  *graphstore.Index
	Reverse  *graphstore.Index
	names    []string
	lookup   map[string][]identity.NodeID
	metadata map[identity.NodeID]storage.MetadataRecord
	order    []identity.NodeID
}

// Open reads and parses every section of path
func Open(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: file shorter than header", ErrCorrupt)
	}

	s := &Store{
		Header: Header{
			Lookup:   binary.LittleEndian.Uint32(data[0:]),
			Metadata: binary.LittleEndian.Uint32(data[4:]),
			Forward:  binary.LittleEndian.Uint32(data[8:]),
			Reverse:  binary.LittleEndian.Uint32(data[12:]),
		},
		lookup:   make(map[string][]identity.NodeID),
		metadata: make(map[identity.NodeID]storage.MetadataRecord),
	}

	if err := s.parseLookup(cursorAt(data, s.Header.Lookup)); err != nil {
		return nil, err
	}
	if err := s.parseMetadata(cursorAt(data, s.Header.Metadata)); err != nil {
		return nil, err
	}
	if s.Forward, err = parseIndex(cursorAt(data, s.Header.Forward)); err != nil {
		return nil, fmt.Errorf("forward index: %w", err)
	}
	if s.Reverse, err = parseIndex(cursorAt(data, s.Header.Reverse)); err != nil {
		return nil, fmt.Errorf("reverse index: %w", err)
	}
	return s, nil
}

func (s *Store) parseLookup(c *cursor) error {
	n := c.u32()
	for i := uint32(0); i < n && c.err == nil; i++ {
		name := c.str()
		k := c.u16()
		ids := make([]identity.NodeID, 0, k)
		for j := uint16(0); j < k && c.err == nil; j++ {
			ids = append(ids, c.id())
		}
		s.names = append(s.names, name)
		s.lookup[name] = ids
	}
	if c.err != nil {
		return fmt.Errorf("lookup section: %w", c.err)
	}
	return nil
}

func (s *Store) parseMetadata(c *cursor) error {
	n := c.u32()
	for i := uint32(0); i < n && c.err == nil; i++ {
		rec := storage.MetadataRecord{ID: c.id()}
		rec.Name = c.str()
		rec.URL = c.str()
		s.metadata[rec.ID] = rec
		s.order = append(s.order, rec.ID)
	}
	if c.err != nil {
		return fmt.Errorf("metadata section: %w", c.err)
	}
	return nil
}

func parseIndex(c *cursor) (*graphstore.Index, error) {
	index := graphstore.NewIndex()
	n := c.u32()
	for i := uint32(0); i < n && c.err == nil; i++ {
		id := c.id()
		offset := c.u64()
		index.Add(id, offset)
	}
	if c.err != nil {
		return nil, c.err
	}
	return index, nil
}

// Lookup returns the ids whose display name normalizes like name
func (s *Store) Lookup(name string) []identity.NodeID {
	return s.lookup[normalize.Clean(name)]
}

// Names returns the normalized names in file order
func (s *Store) Names() []string {
	return s.names
}

// Metadata returns the record of id
func (s *Store) Metadata(id identity.NodeID) (storage.MetadataRecord, bool) {
	rec, ok := s.metadata[id]
	return rec, ok
}

// IDs returns every id of the metadata section in file order
func (s *Store) IDs() []identity.NodeID {
	return s.order
}

// cursor reads little-endian values, latching the first bounds error
type cursor struct {
	data []byte
	pos  int
	err  error
}

func cursorAt(data []byte, offset uint32) *cursor {
	c := &cursor{data: data, pos: int(offset)}
	if int(offset) > len(data) {
		c.err = fmt.Errorf("%w: section offset %d beyond file size %d", ErrCorrupt, offset, len(data))
	}
	return c
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if len(c.data)-c.pos < n {
		c.err = fmt.Errorf("%w: need %d bytes at offset %d, file is %d bytes", ErrCorrupt, n, c.pos, len(c.data))
		return nil
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b
}

func (c *cursor) u16() uint16 {
	if b := c.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (c *cursor) u32() uint32 {
	if b := c.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (c *cursor) u64() uint64 {
	if b := c.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (c *cursor) id() identity.NodeID {
	var id identity.NodeID
	if b := c.take(16); b != nil {
		copy(id[:], b)
	}
	return id
}

func (c *cursor) str() string {
	n := int(c.u16())
	if b := c.take(n); b != nil {
		return string(b)
	}
	return ""
}
