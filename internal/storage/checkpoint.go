package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/sirupsen/logrus"
)

// Checkpoint persists frontier state and the seen-metadata set
type Checkpoint struct {
	StatePath string
	SeenPath  string
}

// Save writes state and seen ids, each through a temp file and rename so a
// crash never leaves a half-written checkpoint behind
func (c Checkpoint) Save(state FrontierState, seen []identity.NodeID) error {
	if state.Processed == nil {
		state.Processed = []identity.NodeID{}
	}
	if state.Queue == nil {
		state.Queue = []identity.NodeID{}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal frontier state: %w", err)
	}
	if err := writeAtomic(c.StatePath, func(w *bufio.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return fmt.Errorf("failed to write frontier state: %w", err)
	}

	if err := writeAtomic(c.SeenPath, func(w *bufio.Writer) error {
		for _, id := range seen {
			if _, err := w.WriteString(id.String() + "\n"); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to write seen ids: %w", err)
	}

	return nil
}

// Load reads a checkpoint. ok is false when no state file exists.
func (c Checkpoint) Load() (state FrontierState, seen []identity.NodeID, ok bool, err error) {
	data, err := os.ReadFile(c.StatePath)
	if os.IsNotExist(err) {
		return FrontierState{}, nil, false, nil
	}
	if err != nil {
		return FrontierState{}, nil, false, fmt.Errorf("failed to read frontier state: %w", err)
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return FrontierState{}, nil, false, fmt.Errorf("failed to parse frontier state: %w", err)
	}

	seen, err = readSeen(c.SeenPath)
	if err != nil {
		return FrontierState{}, nil, false, err
	}

	return state, seen, true, nil
}

func readSeen(path string) ([]identity.NodeID, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open seen ids: %w", err)
	}
	defer file.Close()

	var seen []identity.NodeID
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, err := identity.Parse(line)
		if err != nil {
			logrus.Warnf("Skipping invalid seen id: %v", err)
			continue
		}
		seen = append(seen, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read seen ids: %w", err)
	}
	return seen, nil
}

func writeAtomic(path string, fill func(*bufio.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	if err := fill(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
