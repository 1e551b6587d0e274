package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alvmarrod/artist-weaver/internal/identity"
)

// Edge is a weighted similarity link to a target node
type Edge struct {
	Target identity.NodeID
	Weight float32
}

// MarshalJSON encodes an edge as a [target, weight] tuple
func (e Edge) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Target.String(), e.Weight})
}

// UnmarshalJSON decodes a [target, weight] tuple
func (e *Edge) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("edge is not a tuple: %w", err)
	}
	if len(tuple) != 2 {
		return fmt.Errorf("edge tuple has %d elements, want 2", len(tuple))
	}

	var target string
	if err := json.Unmarshal(tuple[0], &target); err != nil {
		return fmt.Errorf("edge target: %w", err)
	}
	id, err := identity.Parse(target)
	if err != nil {
		return err
	}

	var weight float32
	if err := json.Unmarshal(tuple[1], &weight); err != nil {
		return fmt.Errorf("edge weight: %w", err)
	}

	e.Target = id
	e.Weight = weight
	return nil
}

// AdjacencyRecord is one node's outbound edges, appended once per source
type AdjacencyRecord struct {
	ID          identity.NodeID `json:"id"`
	Connections []Edge          `json:"connections"`
}

// Validate rejects records that cannot be encoded
func (r *AdjacencyRecord) Validate() error {
	if r.ID == identity.Nil {
		return fmt.Errorf("adjacency record has no id")
	}
	if r.Connections == nil {
		return fmt.Errorf("adjacency record %s has no connections field", r.ID)
	}
	return nil
}

// MetadataRecord holds the display name and source URL of a node
type MetadataRecord struct {
	ID   identity.NodeID `json:"id"`
	Name string          `json:"name"`
	URL  string          `json:"url"`
}

// Validate rejects records without an id
func (m *MetadataRecord) Validate() error {
	if m.ID == identity.Nil {
		return fmt.Errorf("metadata record has no id")
	}
	return nil
}

// FrontierState is the persisted part of the crawl frontier
type FrontierState struct {
	Processed []identity.NodeID `json:"processed_mbids"`
	Queue     []identity.NodeID `json:"queue"`
}

// Metrics tracks crawl statistics for export on exit
type Metrics struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Batches           int       `json:"batches"`
	NodesDiscovered   int       `json:"nodes_discovered"`
	NodesProcessed    int       `json:"nodes_processed"`
	NodesFailed       int       `json:"nodes_failed"`
	EdgesRecorded     int       `json:"edges_recorded"`
	RequestsSent      int       `json:"requests_sent"`
	RequestsFailed    int       `json:"requests_failed"`
	Retries           int       `json:"retries"`
	RateLimitHits     int       `json:"rate_limit_hits"`
	NotFound          int       `json:"not_found"`
	SkippedRecords    int       `json:"skipped_records"`
	TotalFetchTimeMs  int64     `json:"total_fetch_time_ms"`
	AvgFetchTimeMs    int64     `json:"avg_fetch_time_ms"`
	TerminationReason string    `json:"termination_reason"`
}
