package crawler

import (
	"context"
	"errors"
	"fmt"

	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/alvmarrod/artist-weaver/internal/lastfm"
	"github.com/alvmarrod/artist-weaver/internal/metrics"
	"github.com/alvmarrod/artist-weaver/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrSeedNotFound is returned when a seed name does not resolve upstream
var ErrSeedNotFound = errors.New("seed artist not found")

// Upstream is the similarity service the frontier expands nodes against.
// Not found is reported as an empty result, not an error.
type Upstream interface {
	LookupByName(ctx context.Context, name string) (*lastfm.Artist, error)
	SimilarByID(ctx context.Context, mbid string, limit int) ([]lastfm.Similar, error)
	SimilarByName(ctx context.Context, name string, limit int) ([]lastfm.Similar, error)
	TagsByID(ctx context.Context, mbid string, limit int) ([]lastfm.Tag, error)
	TagsByName(ctx context.Context, name string, limit int) ([]lastfm.Tag, error)
}

// Option configures a Frontier
type Option func(*Frontier)

// WithKnown rejects discovered nodes for which known returns true. They are
// recorded but never enqueued, so an incremental crawl skips nodes that an
// earlier collection already covered.
func WithKnown(known func(identity.NodeID) bool) Option {
	return func(f *Frontier) {
		f.known = known
	}
}

// WithTags enables tag nodes, keeping at most limit tags per artist
func WithTags(limit int) Option {
	return func(f *Frontier) {
		f.includeTags = true
		f.tagLimit = limit
	}
}

// WithSimilarLimit caps the similar artists requested per node
func WithSimilarLimit(limit int) Option {
	return func(f *Frontier) {
		f.similarLimit = limit
	}
}

// Frontier is the resumable crawl state: a FIFO of pending nodes, the set of
// processed nodes and the set of nodes whose metadata has been recorded.
// Pending and processed never overlap. A Frontier is driven by a single
// goroutine; only expansions run concurrently.
type Frontier struct {
	upstream   Upstream
	logs       *storage.Logs
	names      *storage.NameIndex
	checkpoint storage.Checkpoint
	tracker    *metrics.Tracker

	queue          *Queue
	processed      map[identity.NodeID]struct{}
	processedOrder []identity.NodeID
	seen           map[identity.NodeID]struct{}
	seenOrder      []identity.NodeID

	known        func(identity.NodeID) bool
	includeTags  bool
	tagLimit     int
	similarLimit int
}

// NewFrontier creates an empty frontier writing to logs and names
func NewFrontier(upstream Upstream, logs *storage.Logs, names *storage.NameIndex, checkpoint storage.Checkpoint, tracker *metrics.Tracker, opts ...Option) *Frontier {
	if tracker == nil {
		tracker = metrics.NewTracker()
	}

	f := &Frontier{
		upstream:     upstream,
		logs:         logs,
		names:        names,
		checkpoint:   checkpoint,
		tracker:      tracker,
		queue:        NewQueue(),
		processed:    make(map[identity.NodeID]struct{}),
		seen:         make(map[identity.NodeID]struct{}),
		similarLimit: 250,
		tagLimit:     50,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BatchResult summarizes one DrainBatch call
type BatchResult struct {
	Popped     int
	Expanded   int
	Failed     int
	Requeued   int
	Discovered int
	Edges      int
}

// Seed looks name up upstream and enqueues it. Returns the id and whether it
// was enqueued; a node that is already processed or queued is not enqueued
// again.
func (f *Frontier) Seed(ctx context.Context, name string) (identity.NodeID, bool, error) {
	artist, err := f.upstream.LookupByName(ctx, name)
	if err != nil {
		return identity.Nil, false, fmt.Errorf("failed to look up seed %q: %w", name, err)
	}
	if artist == nil {
		return identity.Nil, false, fmt.Errorf("%w: %q", ErrSeedNotFound, name)
	}

	id, err := identity.Resolve(artist.MBID, artist.URL)
	if err != nil {
		return identity.Nil, false, fmt.Errorf("seed %q: %w", name, err)
	}

	displayName := artist.Name
	if displayName == "" {
		displayName = name
	}
	if _, err := f.recordMetadata(id, displayName, artist.URL); err != nil {
		return id, false, err
	}

	if f.IsProcessed(id) || f.queue.Contains(id) {
		logrus.Infof("Seed %q (%s) already known, not enqueued", name, id)
		return id, false, nil
	}

	f.queue.Push(id)
	f.tracker.SetQueueSize(f.queue.Size())
	logrus.Infof("Seeded %q as %s (native=%t)", displayName, id, identity.IsNative(id))
	return id, true, nil
}

// DrainBatch pops up to batchSize nodes, expands them concurrently and
// applies the results in pop order. A terminal upstream error aborts the
// batch: nodes whose expansion did not complete go back to the front of the
// queue unprocessed, completed ones are applied, and the error is returned.
func (f *Frontier) DrainBatch(ctx context.Context, batchSize int) (BatchResult, error) {
	var result BatchResult
	if batchSize < 1 {
		return result, nil
	}

	batch := make([]identity.NodeID, 0, batchSize)
	for len(batch) < batchSize {
		id, ok := f.queue.Pop()
		if !ok {
			break
		}
		result.Popped++
		if f.IsProcessed(id) {
			continue
		}
		f.markProcessed(id)
		batch = append(batch, id)
	}
	if len(batch) == 0 {
		return result, nil
	}

	expansions := make([]expansion, len(batch))
	completed := make([]bool, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range batch {
		g.Go(func() error {
			exp, err := f.expand(gctx, id)
			if err != nil {
				if errors.Is(err, lastfm.ErrUnauthorized) {
					return err
				}
				// Cancelled before completing
				return nil
			}
			expansions[i] = exp
			completed[i] = true
			return nil
		})
	}
	waitErr := g.Wait()

	var requeue []identity.NodeID
	for i, id := range batch {
		if !completed[i] {
			requeue = append(requeue, id)
			continue
		}
		if err := f.apply(expansions[i], &result); err != nil {
			// Nothing from this node on was fully recorded
			requeue = append(requeue, batch[i:]...)
			f.unmarkProcessed(requeue)
			f.queue.PushFront(requeue)
			result.Requeued = len(requeue)
			f.tracker.SetQueueSize(f.queue.Size())
			logrus.Warnf("Batch aborted on write failure, %d nodes returned to the queue", len(requeue))
			return result, err
		}
	}

	if len(requeue) > 0 {
		f.unmarkProcessed(requeue)
		f.queue.PushFront(requeue)
		result.Requeued = len(requeue)
		if waitErr == nil {
			waitErr = ctx.Err()
		}
		logrus.Warnf("Batch aborted, %d nodes returned to the queue", len(requeue))
	}

	f.tracker.SetQueueSize(f.queue.Size())
	return result, waitErr
}

// apply records one completed expansion
func (f *Frontier) apply(exp expansion, result *BatchResult) error {
	edges := make([]storage.Edge, 0, len(exp.candidates))
	for _, c := range exp.candidates {
		isNew, err := f.recordMetadata(c.id, c.name, c.url)
		if err != nil {
			return err
		}
		edges = append(edges, c.edge())

		if !isNew {
			continue
		}
		result.Discovered++
		if c.tag || f.IsProcessed(c.id) || f.queue.Contains(c.id) {
			continue
		}
		if f.known != nil && f.known(c.id) {
			continue
		}
		f.queue.Push(c.id)
	}

	if len(edges) > 0 {
		if err := f.logs.AppendAdjacency(storage.AdjacencyRecord{ID: exp.source, Connections: edges}); err != nil {
			return fmt.Errorf("failed to append adjacency for %s: %w", exp.source, err)
		}
		result.Edges += len(edges)
		f.tracker.AddEdgesRecorded(len(edges))
	}

	result.Expanded++
	f.tracker.IncrementNodesProcessed()
	if exp.failed {
		result.Failed++
		f.tracker.IncrementNodesFailed()
	}
	return nil
}

// recordMetadata appends metadata for id the first time it is seen.
// Returns true if the id was new.
func (f *Frontier) recordMetadata(id identity.NodeID, name, url string) (bool, error) {
	if _, ok := f.seen[id]; ok {
		return false, nil
	}

	rec := storage.MetadataRecord{ID: id, Name: name, URL: url}
	if err := f.logs.AppendMetadata(rec); err != nil {
		return false, fmt.Errorf("failed to append metadata for %s: %w", id, err)
	}
	if err := f.names.Put(rec); err != nil {
		logrus.Warnf("Failed to index name of %s: %v", id, err)
	}

	f.seen[id] = struct{}{}
	f.seenOrder = append(f.seenOrder, id)
	f.tracker.AddNodesDiscovered(1)
	return true, nil
}

func (f *Frontier) markProcessed(id identity.NodeID) {
	f.processed[id] = struct{}{}
	f.processedOrder = append(f.processedOrder, id)
}

func (f *Frontier) unmarkProcessed(ids []identity.NodeID) {
	drop := make(map[identity.NodeID]struct{}, len(ids))
	for _, id := range ids {
		delete(f.processed, id)
		drop[id] = struct{}{}
	}

	kept := f.processedOrder[:0]
	for _, id := range f.processedOrder {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	f.processedOrder = kept
}

// IsProcessed reports whether id has been expanded
func (f *Frontier) IsProcessed(id identity.NodeID) bool {
	_, ok := f.processed[id]
	return ok
}

// IsSeen reports whether metadata for id has been recorded
func (f *Frontier) IsSeen(id identity.NodeID) bool {
	_, ok := f.seen[id]
	return ok
}

// QueueSize returns the number of pending nodes
func (f *Frontier) QueueSize() int {
	return f.queue.Size()
}

// ProcessedCount returns the number of processed nodes
func (f *Frontier) ProcessedCount() int {
	return len(f.processed)
}

// SeenCount returns the number of nodes with recorded metadata
func (f *Frontier) SeenCount() int {
	return len(f.seen)
}

// Pending returns the queue in order
func (f *Frontier) Pending() []identity.NodeID {
	return f.queue.GetAllEntries()
}

// Save writes a checkpoint of the frontier
func (f *Frontier) Save() error {
	state := storage.FrontierState{
		Processed: append([]identity.NodeID(nil), f.processedOrder...),
		Queue:     f.queue.GetAllEntries(),
	}
	if err := f.checkpoint.Save(state, f.seenOrder); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	logrus.Debugf("Checkpoint saved: %d processed, %d queued, %d seen", len(f.processedOrder), len(state.Queue), len(f.seenOrder))
	return nil
}

// Load replaces the frontier state with the last checkpoint. Returns false
// when there is no checkpoint, leaving the frontier untouched.
func (f *Frontier) Load() (bool, error) {
	state, seen, ok, err := f.checkpoint.Load()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	f.processed = make(map[identity.NodeID]struct{}, len(state.Processed))
	f.processedOrder = f.processedOrder[:0]
	for _, id := range state.Processed {
		if _, dup := f.processed[id]; dup {
			continue
		}
		f.markProcessed(id)
	}

	pending := make([]identity.NodeID, 0, len(state.Queue))
	for _, id := range state.Queue {
		if !f.IsProcessed(id) {
			pending = append(pending, id)
		}
	}
	f.queue.Reset(pending)

	f.seen = make(map[identity.NodeID]struct{}, len(seen))
	f.seenOrder = f.seenOrder[:0]
	for _, id := range seen {
		if _, dup := f.seen[id]; dup {
			continue
		}
		f.seen[id] = struct{}{}
		f.seenOrder = append(f.seenOrder, id)
	}

	f.tracker.SetQueueSize(f.queue.Size())
	logrus.Infof("Resuming with %d processed nodes, %d queued, %d with metadata", len(f.processed), f.queue.Size(), len(f.seen))
	return true, nil
}
