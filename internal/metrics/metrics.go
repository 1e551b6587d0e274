package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alvmarrod/artist-weaver/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "artist_weaver"

// Tracker holds and manages crawl metrics for a single run. Every counter is
// mirrored into a Prometheus registry owned by the tracker.
type Tracker struct {
	mu               sync.Mutex
	data             storage.Metrics
	totalFetchTimeMs int64
	fetchCount       int

	registry        *prometheus.Registry
	batches         prometheus.Counter
	nodesDiscovered prometheus.Counter
	nodesProcessed  prometheus.Counter
	nodesFailed     prometheus.Counter
	edgesRecorded   prometheus.Counter
	requestsSent    prometheus.Counter
	requestsFailed  prometheus.Counter
	retries         prometheus.Counter
	rateLimitHits   prometheus.Counter
	notFound        prometheus.Counter
	skippedRecords  prometheus.Counter
	fetchDuration   prometheus.Histogram
	queueSize       prometheus.Gauge
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	t := &Tracker{
		data: storage.Metrics{
			StartTime: time.Now(),
		},
		registry:        prometheus.NewRegistry(),
		batches:         counter("batches_total", "Crawl batches completed"),
		nodesDiscovered: counter("nodes_discovered_total", "Nodes seen for the first time"),
		nodesProcessed:  counter("nodes_processed_total", "Nodes expanded"),
		nodesFailed:     counter("nodes_failed_total", "Nodes whose expansion failed"),
		edgesRecorded:   counter("edges_recorded_total", "Edges appended to the graph log"),
		requestsSent:    counter("requests_total", "Upstream requests sent"),
		requestsFailed:  counter("requests_failed_total", "Upstream requests that failed at transport level"),
		retries:         counter("retries_total", "Upstream request retries"),
		rateLimitHits:   counter("rate_limit_hits_total", "Upstream rate limit responses"),
		notFound:        counter("not_found_total", "Upstream not found responses"),
		skippedRecords:  counter("skipped_records_total", "Malformed or incomplete log records skipped"),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Upstream request latency",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Pending nodes in the crawl frontier",
		}),
	}

	t.registry.MustRegister(
		t.batches, t.nodesDiscovered, t.nodesProcessed, t.nodesFailed,
		t.edgesRecorded, t.requestsSent, t.requestsFailed, t.retries,
		t.rateLimitHits, t.notFound, t.skippedRecords, t.fetchDuration,
		t.queueSize,
	)
	return t
}

// Registry returns the Prometheus registry backing this tracker
func (t *Tracker) Registry() *prometheus.Registry {
	return t.registry
}

// Handler serves the tracker's registry in the Prometheus text format
func (t *Tracker) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// IncrementBatches increments the completed batch counter
func (t *Tracker) IncrementBatches() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.Batches++
	t.batches.Inc()
}

// AddNodesDiscovered adds n newly seen nodes
func (t *Tracker) AddNodesDiscovered(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.NodesDiscovered += n
	t.nodesDiscovered.Add(float64(n))
}

// IncrementNodesProcessed increments the expanded nodes counter
func (t *Tracker) IncrementNodesProcessed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.NodesProcessed++
	t.nodesProcessed.Inc()
}

// IncrementNodesFailed increments the failed expansion counter
func (t *Tracker) IncrementNodesFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.NodesFailed++
	t.nodesFailed.Inc()
}

// AddEdgesRecorded adds n appended edges
func (t *Tracker) AddEdgesRecorded(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.EdgesRecorded += n
	t.edgesRecorded.Add(float64(n))
}

// IncrementRequestsSent increments the upstream request counter
func (t *Tracker) IncrementRequestsSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.RequestsSent++
	t.requestsSent.Inc()
}

// IncrementRequestsFailed increments the transport failure counter
func (t *Tracker) IncrementRequestsFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.RequestsFailed++
	t.requestsFailed.Inc()
}

// IncrementRetries increments the retry counter
func (t *Tracker) IncrementRetries() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.Retries++
	t.retries.Inc()
}

// IncrementRateLimitHits increments the rate limit counter
func (t *Tracker) IncrementRateLimitHits() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.RateLimitHits++
	t.rateLimitHits.Inc()
}

// IncrementNotFound increments the not found counter
func (t *Tracker) IncrementNotFound() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.NotFound++
	t.notFound.Inc()
}

// AddSkippedRecords adds n skipped log records
func (t *Tracker) AddSkippedRecords(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.SkippedRecords += n
	t.skippedRecords.Add(float64(n))
}

// SetQueueSize records the current frontier size
func (t *Tracker) SetQueueSize(n int) {
	t.queueSize.Set(float64(n))
}

// RecordFetchTime records an upstream request duration
func (t *Tracker) RecordFetchTime(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalFetchTimeMs += duration.Milliseconds()
	t.fetchCount++
	t.fetchDuration.Observe(duration.Seconds())
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.data
	snapshot.TotalFetchTimeMs = t.totalFetchTimeMs
	if t.fetchCount > 0 {
		snapshot.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	return snapshot
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Finalize metrics
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	t.data.TotalFetchTimeMs = t.totalFetchTimeMs
	if t.fetchCount > 0 {
		t.data.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	jsonData, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create metrics directory: %w", err)
		}
	}
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress formats current metrics for periodic console updates
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Nodes: %d discovered, %d processed, %d failed | Edges: %d | Requests: %d sent, %d failed, %d retries, %d rate limited | Skipped records: %d",
		t.data.NodesDiscovered,
		t.data.NodesProcessed,
		t.data.NodesFailed,
		t.data.EdgesRecorded,
		t.data.RequestsSent,
		t.data.RequestsFailed,
		t.data.Retries,
		t.data.RateLimitHits,
		t.data.SkippedRecords,
	)
}
