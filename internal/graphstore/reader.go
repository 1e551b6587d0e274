package graphstore

import (
	"fmt"
	"os"

	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/edsrzf/mmap-go"
	"github.com/hashicorp/go-multierror"
)

// Reader gives random access to a graph file through a read-only memory map
type Reader struct {
	file *os.File
	data mmap.MMap
}

// Open maps path into memory
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	r := &Reader{file: file}
	if info.Size() == 0 {
		// Zero-length files cannot be mapped
		return r, nil
	}

	r.data, err = mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}
	return r, nil
}

// Size returns the file size in bytes
func (r *Reader) Size() int {
	return len(r.data)
}

// Path returns the name the file was opened with
func (r *Reader) Path() string {
	return r.file.Name()
}

// RecordAt decodes the record starting at offset
func (r *Reader) RecordAt(offset uint64) (Record, error) {
	return decodeAt(r.data, offset)
}

// Neighbors returns the record of id. ok is false if id is not indexed.
func (r *Reader) Neighbors(id identity.NodeID, index *Index) (Record, bool, error) {
	offset, ok := index.Lookup(id)
	if !ok {
		return Record{}, false, nil
	}
	rec, err := r.RecordAt(offset)
	if err != nil {
		return Record{}, false, err
	}
	if rec.Source != id {
		return Record{}, false, fmt.Errorf("%w: index points %s at record of %s", ErrCorrupt, id, rec.Source)
	}
	return rec, true, nil
}

// Close unmaps the file
func (r *Reader) Close() error {
	var result *multierror.Error
	if r.data != nil {
		if err := r.data.Unmap(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to unmap: %w", err))
		}
		r.data = nil
	}
	if err := r.file.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close: %w", err))
	}
	return result.ErrorOrNil()
}
