// Package metastore builds and reads the unified metadata file: a name
// lookup, the node metadata table and the offset indexes of the forward and
// reverse graph files behind one header.
//
// Layout, little endian:
//
//	header   4 × uint32: lookup, metadata, forward, reverse section offsets
//	lookup   uint32 n, n × (uint16 len | name | uint16 k | k × id[16])
//	metadata uint32 n, n × (id[16] | uint16 len | name | uint16 len | url)
//	forward  uint32 n, n × (id[16] | uint64 offset)
//	reverse  uint32 n, n × (id[16] | uint64 offset)
package metastore

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/alvmarrod/artist-weaver/internal/graphstore"
	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/alvmarrod/artist-weaver/internal/normalize"
	"github.com/alvmarrod/artist-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

const (
	headerSize = 16
	maxString  = math.MaxUint16
	maxIDs     = math.MaxUint16
)

// ErrTooLarge is returned when a section starts beyond what the 32-bit
// header can address
var ErrTooLarge = errors.New("metastore: file exceeds 4 GiB header limit")

// Input names the sources of a build
type Input struct {
	MetadataLog string
	Forward     *graphstore.Index
	Reverse     *graphstore.Index
}

// BuildStats reports the outcome of Build
type BuildStats struct {
	LookupNames      int
	MetadataEntries  int
	ForwardEntries   int
	ReverseEntries   int
	TruncatedStrings int
	TruncatedLookups int
	SkippedRecords   int
	Header           Header
	BytesWritten     uint64
}

// Header holds the section offsets
type Header struct {
	Lookup   uint32
	Metadata uint32
	Forward  uint32
	Reverse  uint32
}

// countingWriter tracks how many bytes went through it
type countingWriter struct {
	w   *bufio.Writer
	n   uint64
	err error
}

func (c *countingWriter) write(p []byte) {
	if c.err != nil {
		return
	}
	n, err := c.w.Write(p)
	c.n += uint64(n)
	c.err = err
}

func (c *countingWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	c.write(b[:])
}

func (c *countingWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	c.write(b[:])
}

func (c *countingWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	c.write(b[:])
}

func (c *countingWriter) id(id identity.NodeID) {
	c.write(id[:])
}

// str writes a length-prefixed string. Returns true if it was truncated.
func (c *countingWriter) str(s string) bool {
	t := truncateUTF8(s, maxString)
	c.u16(uint16(len(t)))
	c.write([]byte(t))
	return len(t) != len(s)
}

// sectionStart returns the current offset as a header value
func (c *countingWriter) sectionStart() (uint32, error) {
	if c.n > math.MaxUint32 {
		return 0, fmt.Errorf("%w: section at offset %d", ErrTooLarge, c.n)
	}
	return uint32(c.n), nil
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// metadataSet is the first-wins view of a metadata log
type metadataSet struct {
	order   []identity.NodeID
	records map[identity.NodeID]storage.MetadataRecord

	names  []string
	lookup map[string][]identity.NodeID
	listed map[string]map[identity.NodeID]struct{}
}

func loadMetadata(path string) (*metadataSet, storage.ReadStats, error) {
	set := &metadataSet{
		records: make(map[identity.NodeID]storage.MetadataRecord),
		lookup:  make(map[string][]identity.NodeID),
		listed:  make(map[string]map[identity.NodeID]struct{}),
	}

	stats, err := storage.ReadMetadataLog(path, func(rec storage.MetadataRecord) error {
		if _, dup := set.records[rec.ID]; dup {
			return nil
		}
		set.records[rec.ID] = rec
		set.order = append(set.order, rec.ID)

		key := normalize.Clean(rec.Name)
		if key == "" {
			return nil
		}
		ids, ok := set.listed[key]
		if !ok {
			ids = make(map[identity.NodeID]struct{})
			set.listed[key] = ids
			set.names = append(set.names, key)
		}
		if _, dup := ids[rec.ID]; !dup {
			ids[rec.ID] = struct{}{}
			set.lookup[key] = append(set.lookup[key], rec.ID)
		}
		return nil
	})
	return set, stats, err
}

// Build writes the unified metadata file to path
func Build(path string, in Input) (BuildStats, error) {
	var stats BuildStats
	start := time.Now()

	if in.Forward == nil {
		in.Forward = graphstore.NewIndex()
	}
	if in.Reverse == nil {
		in.Reverse = graphstore.NewIndex()
	}

	set, readStats, err := loadMetadata(in.MetadataLog)
	if err != nil {
		return stats, fmt.Errorf("failed to read metadata: %w", err)
	}
	stats.SkippedRecords = readStats.Skipped()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return stats, fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return stats, fmt.Errorf("failed to create %s: %w", path, err)
	}
	fail := func(err error) (BuildStats, error) {
		file.Close()
		os.Remove(path)
		return stats, err
	}

	cw := &countingWriter{w: bufio.NewWriterSize(file, 1<<20)}
	cw.write(make([]byte, headerSize))

	// Lookup
	if stats.Header.Lookup, err = cw.sectionStart(); err != nil {
		return fail(err)
	}
	cw.u32(uint32(len(set.names)))
	for _, name := range set.names {
		ids := set.lookup[name]
		if len(ids) > maxIDs {
			logrus.Warnf("Name %q maps to %d ids, keeping the first %d", name, len(ids), maxIDs)
			ids = ids[:maxIDs]
			stats.TruncatedLookups++
		}
		if cw.str(name) {
			stats.TruncatedStrings++
		}
		cw.u16(uint16(len(ids)))
		for _, id := range ids {
			cw.id(id)
		}
	}
	stats.LookupNames = len(set.names)

	// Metadata
	if stats.Header.Metadata, err = cw.sectionStart(); err != nil {
		return fail(err)
	}
	cw.u32(uint32(len(set.order)))
	for _, id := range set.order {
		rec := set.records[id]
		cw.id(id)
		if cw.str(rec.Name) {
			stats.TruncatedStrings++
		}
		if cw.str(rec.URL) {
			stats.TruncatedStrings++
		}
	}
	stats.MetadataEntries = len(set.order)

	// Indexes
	if stats.Header.Forward, err = cw.sectionStart(); err != nil {
		return fail(err)
	}
	writeIndex(cw, in.Forward)
	stats.ForwardEntries = in.Forward.Len()

	if stats.Header.Reverse, err = cw.sectionStart(); err != nil {
		return fail(err)
	}
	writeIndex(cw, in.Reverse)
	stats.ReverseEntries = in.Reverse.Len()

	if cw.err != nil {
		return fail(fmt.Errorf("failed to write %s: %w", path, cw.err))
	}
	if err := cw.w.Flush(); err != nil {
		return fail(fmt.Errorf("failed to flush %s: %w", path, err))
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("failed to seek to header: %w", err))
	}
	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:], stats.Header.Lookup)
	binary.LittleEndian.PutUint32(header[4:], stats.Header.Metadata)
	binary.LittleEndian.PutUint32(header[8:], stats.Header.Forward)
	binary.LittleEndian.PutUint32(header[12:], stats.Header.Reverse)
	if _, err := file.Write(header[:]); err != nil {
		return fail(fmt.Errorf("failed to patch header: %w", err))
	}
	if err := file.Close(); err != nil {
		return stats, fmt.Errorf("failed to close %s: %w", path, err)
	}
	stats.BytesWritten = cw.n

	if stats.TruncatedStrings > 0 {
		logrus.Warnf("Truncated %d strings longer than %d bytes", stats.TruncatedStrings, maxString)
	}
	logrus.Infof("Metadata store written to %s: %d names, %d nodes, %d forward, %d reverse entries, %d bytes in %v",
		path, stats.LookupNames, stats.MetadataEntries, stats.ForwardEntries, stats.ReverseEntries, stats.BytesWritten, time.Since(start))
	return stats, nil
}

func writeIndex(cw *countingWriter, index *graphstore.Index) {
	entries := index.Entries()
	cw.u32(uint32(len(entries)))
	for _, e := range entries {
		cw.id(e.ID)
		cw.u64(e.Offset)
	}
}
