package graphstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/alvmarrod/artist-weaver/internal/memory"
	"github.com/alvmarrod/artist-weaver/internal/storage"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Options tunes conversion
type Options struct {
	WriteBufferSize     int // bytes buffered before each write to disk
	ReverseChunkTargets int // targets per pass in chunked reverse mode
}

const (
	defaultWriteBufferSize     = 8 << 20
	defaultReverseChunkTargets = 1 << 20
)

func (o Options) withDefaults() Options {
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = defaultWriteBufferSize
	}
	if o.ReverseChunkTargets <= 0 {
		o.ReverseChunkTargets = defaultReverseChunkTargets
	}
	return o
}

// Stats reports the outcome of a conversion
type Stats struct {
	Records        int
	Edges          int
	Malformed      int
	IncompleteTail bool
	Duplicates     int
	BytesWritten   uint64
}

// Skipped returns the number of input records that were not written
func (s Stats) Skipped() int {
	n := s.Malformed + s.Duplicates
	if s.IncompleteTail {
		n++
	}
	return n
}

// recordWriter streams records into a buffered file, counting offsets
type recordWriter struct {
	file   *os.File
	buf    *bufio.Writer
	offset uint64
	index  *Index
}

func createRecordWriter(path string, bufferSize int) (*recordWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return &recordWriter{
		file:  file,
		buf:   bufio.NewWriterSize(file, bufferSize),
		index: NewIndex(),
	}, nil
}

func (w *recordWriter) write(rec Record) error {
	w.index.Add(rec.Source, w.offset)
	n, err := EncodeRecord(w.buf, rec)
	w.offset += uint64(n)
	if err != nil {
		return fmt.Errorf("failed to write record %s: %w", rec.Source, err)
	}
	return nil
}

func (w *recordWriter) close() error {
	var result *multierror.Error
	if err := w.buf.Flush(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to flush: %w", err))
	}
	if err := w.file.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close: %w", err))
	}
	return result.ErrorOrNil()
}

// abort closes and removes a partially written output
func (w *recordWriter) abort() {
	w.file.Close()
	os.Remove(w.file.Name())
}

// ConvertForward encodes every adjacency record of logPath into binPath in
// one streaming pass. Malformed lines and repeated sources are skipped; the
// first record of a source wins.
func ConvertForward(logPath, binPath string, opts Options) (*Index, Stats, error) {
	opts = opts.withDefaults()
	var stats Stats
	start := time.Now()

	w, err := createRecordWriter(binPath, opts.WriteBufferSize)
	if err != nil {
		return nil, stats, err
	}

	readStats, err := storage.ReadAdjacencyLog(logPath, func(rec storage.AdjacencyRecord) error {
		if w.index.Contains(rec.ID) {
			stats.Duplicates++
			logrus.Debugf("Skipping duplicate record for %s", rec.ID)
			return nil
		}
		stats.Records++
		stats.Edges += len(rec.Connections)
		return w.write(Record{Source: rec.ID, Edges: rec.Connections})
	})
	stats.Malformed = readStats.Malformed
	stats.IncompleteTail = readStats.IncompleteTail
	if err != nil {
		w.abort()
		return nil, stats, fmt.Errorf("forward conversion failed: %w", err)
	}

	if err := w.close(); err != nil {
		return nil, stats, err
	}
	stats.BytesWritten = w.offset

	logrus.Infof("Forward graph written to %s: %d records, %d edges, %d bytes, %d skipped in %v",
		binPath, stats.Records, stats.Edges, stats.BytesWritten, stats.Skipped(), time.Since(start))
	return w.index, stats, nil
}

// ConvertReverse builds the transposed graph of logPath in memory and writes
// it to binPath. Targets are written in ascending id order; each target's
// edges are ordered by weight descending, then source id ascending. Memory
// grows with the number of edges.
func ConvertReverse(logPath, binPath string, opts Options) (*Index, Stats, error) {
	opts = opts.withDefaults()
	var stats Stats
	start := time.Now()

	graph := memory.NewIncomingGraph()
	sources := make(map[identity.NodeID]struct{})
	readStats, err := storage.ReadAdjacencyLog(logPath, func(rec storage.AdjacencyRecord) error {
		if _, dup := sources[rec.ID]; dup {
			stats.Duplicates++
			return nil
		}
		sources[rec.ID] = struct{}{}
		graph.AddRecord(rec)
		return nil
	})
	stats.Malformed = readStats.Malformed
	stats.IncompleteTail = readStats.IncompleteTail
	if err != nil {
		return nil, stats, fmt.Errorf("reverse conversion failed: %w", err)
	}

	targets, edges := graph.GetStats()
	logrus.Infof("Accumulated %d incoming edges for %d targets", edges, targets)

	w, err := createRecordWriter(binPath, opts.WriteBufferSize)
	if err != nil {
		return nil, stats, err
	}
	for _, target := range graph.Targets() {
		incoming := graph.Incoming(target)
		if err := w.write(Record{Source: target, Edges: incoming}); err != nil {
			w.abort()
			return nil, stats, err
		}
		stats.Records++
		stats.Edges += len(incoming)
	}
	if err := w.close(); err != nil {
		return nil, stats, err
	}
	stats.BytesWritten = w.offset

	logrus.Infof("Reverse graph written to %s: %d records, %d edges, %d bytes in %v",
		binPath, stats.Records, stats.Edges, stats.BytesWritten, time.Since(start))
	return w.index, stats, nil
}

// ConvertReverseChunked writes the same file as ConvertReverse but reads the
// forward binary instead of the log and holds at most ReverseChunkTargets
// targets' edges in memory at a time. It makes one counting pass plus one
// pass over forwardBin per chunk.
func ConvertReverseChunked(forwardBin, binPath string, opts Options) (*Index, Stats, error) {
	opts = opts.withDefaults()
	var stats Stats
	start := time.Now()

	inDegree := make(map[identity.NodeID]int)
	err := scanBinary(forwardBin, opts.WriteBufferSize, func(rec Record) error {
		for _, e := range rec.Edges {
			inDegree[e.Target]++
		}
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("failed to count in-degrees: %w", err)
	}

	targets := make([]identity.NodeID, 0, len(inDegree))
	for id := range inDegree {
		targets = append(targets, id)
	}
	memory.SortIDs(targets)

	w, err := createRecordWriter(binPath, opts.WriteBufferSize)
	if err != nil {
		return nil, stats, err
	}

	chunks := 0
	for lo := 0; lo < len(targets); lo += opts.ReverseChunkTargets {
		hi := min(lo+opts.ReverseChunkTargets, len(targets))
		chunk := make(map[identity.NodeID][]storage.Edge, hi-lo)
		for _, id := range targets[lo:hi] {
			chunk[id] = make([]storage.Edge, 0, inDegree[id])
		}

		err := scanBinary(forwardBin, opts.WriteBufferSize, func(rec Record) error {
			for _, e := range rec.Edges {
				if incoming, ok := chunk[e.Target]; ok {
					chunk[e.Target] = append(incoming, storage.Edge{Target: rec.Source, Weight: e.Weight})
				}
			}
			return nil
		})
		if err != nil {
			w.abort()
			return nil, stats, fmt.Errorf("failed to collect chunk %d: %w", chunks, err)
		}

		for _, id := range targets[lo:hi] {
			incoming := chunk[id]
			memory.SortIncoming(incoming)
			if err := w.write(Record{Source: id, Edges: incoming}); err != nil {
				w.abort()
				return nil, stats, err
			}
			stats.Records++
			stats.Edges += len(incoming)
		}
		chunks++
		logrus.Debugf("Reverse chunk %d written (%d targets)", chunks, hi-lo)
	}

	if err := w.close(); err != nil {
		return nil, stats, err
	}
	stats.BytesWritten = w.offset

	logrus.Infof("Reverse graph written to %s in %d chunks: %d records, %d edges, %d bytes in %v",
		binPath, chunks, stats.Records, stats.Edges, stats.BytesWritten, time.Since(start))
	return w.index, stats, nil
}

// scanBinary decodes every record of a graph file in order
func scanBinary(path string, bufferSize int, fn func(Record) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	r := bufio.NewReaderSize(file, bufferSize)
	for {
		rec, err := DecodeRecord(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// IndexBinary rebuilds the offset index of an existing graph file
func IndexBinary(path string) (*Index, error) {
	index := NewIndex()
	var offset uint64
	err := scanBinary(path, defaultWriteBufferSize, func(rec Record) error {
		index.Add(rec.Source, offset)
		offset += uint64(RecordSize(len(rec.Edges)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return index, nil
}
