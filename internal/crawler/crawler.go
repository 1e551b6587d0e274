package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/alvmarrod/artist-weaver/internal/lastfm"
	"github.com/alvmarrod/artist-weaver/internal/metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Termination reasons reported by Run
const (
	ReasonQueueEmpty   = "queue_empty"
	ReasonMaxNodes     = "max_nodes_reached"
	ReasonInterrupted  = "interrupted"
	ReasonUnauthorized = "unauthorized"
	ReasonError        = "error"
)

// RunOptions controls the batch loop
type RunOptions struct {
	MaxNodes        int // 0 means unbounded
	BatchSize       int
	CheckpointEvery int
	BatchDelay      time.Duration
}

// RunResult summarizes a Run
type RunResult struct {
	Batches    int
	Expanded   int
	Discovered int
	Reason     string
}

// Crawler drives a Frontier in sequential batches until the queue empties,
// the node budget is spent, or the context is cancelled
type Crawler struct {
	frontier *Frontier
	tracker  *metrics.Tracker
	opts     RunOptions
}

// NewCrawler creates a crawler instance
func NewCrawler(frontier *Frontier, tracker *metrics.Tracker, opts RunOptions) *Crawler {
	if opts.BatchSize < 1 {
		opts.BatchSize = 10
	}
	if opts.CheckpointEvery < 1 {
		opts.CheckpointEvery = 10
	}
	if tracker == nil {
		tracker = frontier.tracker
	}
	return &Crawler{frontier: frontier, tracker: tracker, opts: opts}
}

// Run processes batches. Cancellation is only observed between batches; a
// started batch runs to completion. A checkpoint is saved every
// CheckpointEvery batches and when the loop ends, including on error.
func (c *Crawler) Run(ctx context.Context) (RunResult, error) {
	var result RunResult
	f := c.frontier

	logrus.Infof("Starting crawl: batch size %d, max nodes %d, %d queued, %d processed",
		c.opts.BatchSize, c.opts.MaxNodes, f.QueueSize(), f.ProcessedCount())

	var runErr error
	for {
		if ctx.Err() != nil {
			result.Reason = ReasonInterrupted
			break
		}
		if f.QueueSize() == 0 {
			result.Reason = ReasonQueueEmpty
			break
		}

		size := c.opts.BatchSize
		if c.opts.MaxNodes > 0 {
			remaining := c.opts.MaxNodes - f.ProcessedCount()
			if remaining <= 0 {
				result.Reason = ReasonMaxNodes
				break
			}
			size = min(size, remaining)
		}

		batch, err := f.DrainBatch(context.WithoutCancel(ctx), size)
		result.Batches++
		result.Expanded += batch.Expanded
		result.Discovered += batch.Discovered
		c.tracker.IncrementBatches()

		logrus.WithFields(logrus.Fields{
			"batch":      result.Batches,
			"expanded":   batch.Expanded,
			"failed":     batch.Failed,
			"discovered": batch.Discovered,
			"edges":      batch.Edges,
			"queue":      f.QueueSize(),
			"processed":  f.ProcessedCount(),
			"seen":       f.SeenCount(),
		}).Info("Batch complete")

		if err != nil {
			runErr = err
			if errors.Is(err, lastfm.ErrUnauthorized) {
				result.Reason = ReasonUnauthorized
			} else {
				result.Reason = ReasonError
			}
			break
		}

		if batch.Expanded > 0 && batch.Discovered == 0 {
			logrus.Warnf("No new nodes discovered in batch %d, the reachable component may be exhausted", result.Batches)
		}

		if result.Batches%c.opts.CheckpointEvery == 0 {
			if err := f.Save(); err != nil {
				runErr = err
				result.Reason = ReasonError
				break
			}
			logrus.Infof("Saved checkpoint at batch %d", result.Batches)
		}

		if c.opts.BatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.opts.BatchDelay):
			}
		}
	}

	if err := f.Save(); err != nil {
		runErr = multierror.Append(runErr, err).ErrorOrNil()
	}

	logrus.Infof("Crawl finished (%s): %d batches, %d expanded, %d discovered, %d still queued",
		result.Reason, result.Batches, result.Expanded, result.Discovered, f.QueueSize())
	return result, runErr
}
