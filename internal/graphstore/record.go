// Package graphstore encodes adjacency logs into a compact binary file of
// fixed-layout records and reads them back by offset.
//
// Record layout, little endian:
//
//	source [16]byte | count uint32 | count × (target [16]byte | weight float32)
package graphstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/alvmarrod/artist-weaver/internal/storage"
)

const (
	idSize     = 16
	headerSize = idSize + 4
	edgeSize   = idSize + 4
)

// ErrCorrupt is returned when a record extends past the end of its input
var ErrCorrupt = errors.New("graphstore: corrupt record")

// Record is one node with its edges
type Record struct {
	Source identity.NodeID
	Edges  []storage.Edge
}

// RecordSize returns the encoded size of a record with n edges
func RecordSize(n int) int {
	return headerSize + n*edgeSize
}

// EncodeRecord writes r and returns the number of bytes written
func EncodeRecord(w io.Writer, r Record) (int, error) {
	if uint64(len(r.Edges)) > math.MaxUint32 {
		return 0, fmt.Errorf("record %s has too many edges: %d", r.Source, len(r.Edges))
	}

	var buf [headerSize]byte
	copy(buf[:idSize], r.Source[:])
	binary.LittleEndian.PutUint32(buf[idSize:], uint32(len(r.Edges)))
	n, err := w.Write(buf[:])
	if err != nil {
		return n, err
	}

	var edge [edgeSize]byte
	for _, e := range r.Edges {
		copy(edge[:idSize], e.Target[:])
		binary.LittleEndian.PutUint32(edge[idSize:], math.Float32bits(e.Weight))
		m, err := w.Write(edge[:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// DecodeRecord reads one record. It returns io.EOF when r is exhausted at a
// record boundary and ErrCorrupt when a record is cut short.
func DecodeRecord(r io.Reader) (Record, error) {
	var rec Record

	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return rec, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return rec, fmt.Errorf("%w: truncated header", ErrCorrupt)
		}
		return rec, err
	}

	copy(rec.Source[:], header[:idSize])
	count := binary.LittleEndian.Uint32(header[idSize:])

	rec.Edges = make([]storage.Edge, 0, min(int(count), 1<<16))
	var edge [edgeSize]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, edge[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return rec, fmt.Errorf("%w: %s declares %d edges, only %d present", ErrCorrupt, rec.Source, count, i)
			}
			return rec, err
		}
		var e storage.Edge
		copy(e.Target[:], edge[:idSize])
		e.Weight = math.Float32frombits(binary.LittleEndian.Uint32(edge[idSize:]))
		rec.Edges = append(rec.Edges, e)
	}
	return rec, nil
}

// decodeAt decodes the record starting at data[offset:] without copying the
// input, checking every bound against len(data)
func decodeAt(data []byte, offset uint64) (Record, error) {
	var rec Record
	size := uint64(len(data))
	if offset > size || size-offset < headerSize {
		return rec, fmt.Errorf("%w: header at offset %d exceeds file size %d", ErrCorrupt, offset, size)
	}

	copy(rec.Source[:], data[offset:offset+idSize])
	count := uint64(binary.LittleEndian.Uint32(data[offset+idSize:]))
	start := offset + headerSize
	if (size-start)/edgeSize < count {
		return rec, fmt.Errorf("%w: %s at offset %d declares %d edges past end of file", ErrCorrupt, rec.Source, offset, count)
	}

	rec.Edges = make([]storage.Edge, count)
	for i := range rec.Edges {
		p := start + uint64(i)*edgeSize
		copy(rec.Edges[i].Target[:], data[p:p+idSize])
		rec.Edges[i].Weight = math.Float32frombits(binary.LittleEndian.Uint32(data[p+idSize:]))
	}
	return rec, nil
}
