package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// AppendLog is a line-delimited JSON file that is only ever appended to.
// Every record is written with a single Write call so it reaches the kernel
// before Append returns.
type AppendLog struct {
	path string
	file *os.File
	sync bool
}

// OpenAppendLog opens or creates path for appending. A torn last line left by
// an interrupted write is terminated so the next record starts on a new line.
func OpenAppendLog(path string, syncWrites bool) (*AppendLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log %s: %w", path, err)
	}

	if err := terminateTornTail(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to repair log %s: %w", path, err)
	}

	return &AppendLog{path: path, file: file, sync: syncWrites}, nil
}

func terminateTornTail(file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}

	logrus.Warnf("Log %s ends with an incomplete record, isolating it", file.Name())
	_, err = file.Write([]byte{'\n'})
	return err
}

// Append writes one record as a single line
func (l *AppendLog) Append(record any) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("failed to append to %s: %w", l.path, err)
	}
	if l.sync {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync %s: %w", l.path, err)
		}
	}
	return nil
}

// Path returns the log file path
func (l *AppendLog) Path() string {
	return l.path
}

// Close closes the underlying file
func (l *AppendLog) Close() error {
	return l.file.Close()
}

// Logs bundles the adjacency and metadata streams written during a crawl
type Logs struct {
	Graph    *AppendLog
	Metadata *AppendLog
}

// OpenLogs opens both crawl logs
func OpenLogs(graphPath, metadataPath string, syncWrites bool) (*Logs, error) {
	graph, err := OpenAppendLog(graphPath, syncWrites)
	if err != nil {
		return nil, err
	}
	metadata, err := OpenAppendLog(metadataPath, syncWrites)
	if err != nil {
		graph.Close()
		return nil, err
	}
	return &Logs{Graph: graph, Metadata: metadata}, nil
}

// AppendAdjacency writes one adjacency record
func (l *Logs) AppendAdjacency(rec AdjacencyRecord) error {
	return l.Graph.Append(rec)
}

// AppendMetadata writes one metadata record
func (l *Logs) AppendMetadata(rec MetadataRecord) error {
	return l.Metadata.Append(rec)
}

// Close closes both logs
func (l *Logs) Close() error {
	var result *multierror.Error
	if err := l.Graph.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := l.Metadata.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// ReadStats counts what a log scan skipped
type ReadStats struct {
	Records        int
	Malformed      int
	IncompleteTail bool
}

// Skipped returns the number of lines that were not delivered
func (s ReadStats) Skipped() int {
	if s.IncompleteTail {
		return s.Malformed + 1
	}
	return s.Malformed
}

type validator interface {
	Validate() error
}

// scanLog streams path line by line, decoding each into a fresh T. Lines
// that fail to decode are counted and skipped. A final line without a newline
// that fails to decode is reported as an incomplete write.
func scanLog[T any, PT interface {
	*T
	validator
}](path string, fn func(T) error) (ReadStats, error) {
	var stats ReadStats

	file, err := os.Open(path)
	if err != nil {
		return stats, fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 1<<20)
	lineNo := 0
	for {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return stats, fmt.Errorf("failed to read log: %w", readErr)
		}
		lineNo++

		terminated := len(line) > 0 && line[len(line)-1] == '\n'
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			var rec T
			err := json.Unmarshal(trimmed, PT(&rec))
			if err == nil {
				err = PT(&rec).Validate()
			}
			switch {
			case err == nil:
				stats.Records++
				if err := fn(rec); err != nil {
					return stats, err
				}
			case !terminated:
				stats.IncompleteTail = true
				logrus.Warnf("Ignoring incomplete last record in %s", path)
			default:
				stats.Malformed++
				logrus.Warnf("Skipping malformed line %d in %s: %v", lineNo, path, err)
			}
		}

		if errors.Is(readErr, io.EOF) {
			return stats, nil
		}
	}
}

// ReadAdjacencyLog streams every parsable adjacency record in path
func ReadAdjacencyLog(path string, fn func(AdjacencyRecord) error) (ReadStats, error) {
	return scanLog[AdjacencyRecord](path, fn)
}

// ReadMetadataLog streams every parsable metadata record in path
func ReadMetadataLog(path string, fn func(MetadataRecord) error) (ReadStats, error) {
	return scanLog[MetadataRecord](path, fn)
}
