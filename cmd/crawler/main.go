package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alvmarrod/artist-weaver/internal/config"
	"github.com/alvmarrod/artist-weaver/internal/crawler"
	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/alvmarrod/artist-weaver/internal/lastfm"
	"github.com/alvmarrod/artist-weaver/internal/metrics"
	"github.com/alvmarrod/artist-weaver/internal/storage"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

// Options are the command-line flags. They override the config file.
type Options struct {
	Config      string   `long:"config" description:"path to the JSON config file"`
	Seeds       []string `long:"seed" description:"artist name to seed the crawl with (repeatable)"`
	MaxNodes    int      `long:"max-nodes" description:"stop after this many processed nodes, 0 for no limit"`
	BatchSize   int      `long:"batch-size" description:"nodes expanded concurrently per batch"`
	Resume      bool     `long:"resume" description:"continue from the last checkpoint"`
	SkipKnown   bool     `long:"skip-known" description:"do not enqueue nodes already present in the metadata log"`
	IncludeTags bool     `long:"include-tags" description:"record tag nodes for each expanded artist"`
	Verbose     bool     `long:"verbose" short:"v" description:"enable debug logging"`
}

func main() {
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if opts.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.LoadConfig(opts.Config)
		if err != nil {
			logrus.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	if len(opts.Seeds) > 0 {
		cfg.Seeds = opts.Seeds
	}
	if parser.FindOptionByLongName("max-nodes").IsSet() {
		cfg.MaxNodes = opts.MaxNodes
	}
	if parser.FindOptionByLongName("batch-size").IsSet() {
		cfg.BatchSize = opts.BatchSize
	}
	if opts.IncludeTags {
		cfg.IncludeTags = true
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	cfg.LoadEnv()
	if cfg.APIKey == "" {
		logrus.Fatal("LASTFM_API_KEY (or API_KEY) is not set")
	}

	logrus.Infof("Configuration loaded: data=%s, seeds=%d, batch=%d, max_nodes=%d, tags=%t",
		cfg.DataDir, len(cfg.Seeds), cfg.BatchSize, cfg.MaxNodes, cfg.IncludeTags)

	os.Exit(run(cfg, opts))
}

func run(cfg *config.Config, opts Options) int {
	graphLog := cfg.Path(cfg.GraphLog)
	metadataLog := cfg.Path(cfg.MetadataLog)

	var known map[identity.NodeID]struct{}
	if opts.SkipKnown {
		var err error
		known, err = loadKnown(metadataLog)
		if err != nil {
			logrus.Errorf("Failed to load known nodes: %v", err)
			return 1
		}
		logrus.Infof("Loaded %d known nodes from %s", len(known), metadataLog)
	}

	// Initialize storage
	logs, err := storage.OpenLogs(graphLog, metadataLog, cfg.SyncWrites)
	if err != nil {
		logrus.Errorf("Failed to open logs: %v", err)
		return 1
	}
	defer logs.Close()

	names, err := storage.NewNameIndex(cfg.Path(cfg.NameIndex), cfg.NameCacheSize)
	if err != nil {
		logrus.Errorf("Failed to open name index: %v", err)
		return 1
	}
	defer names.Close()

	tracker := metrics.NewTracker()
	client := lastfm.NewClient(lastfm.Options{
		BaseURL:           cfg.APIBaseURL,
		APIKey:            cfg.APIKey,
		UserAgent:         cfg.UserAgent,
		Timeout:           cfg.RequestTimeout(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		RetryAttempts:     cfg.RetryAttempts,
		RetryInitial:      cfg.RetryInitial(),
		RetryMax:          cfg.RetryMax(),
	}, tracker)

	frontierOpts := []crawler.Option{crawler.WithSimilarLimit(cfg.SimilarLimit)}
	if cfg.IncludeTags {
		frontierOpts = append(frontierOpts, crawler.WithTags(cfg.TagLimit))
	}
	if known != nil {
		frontierOpts = append(frontierOpts, crawler.WithKnown(func(id identity.NodeID) bool {
			_, ok := known[id]
			return ok
		}))
	}

	checkpoint := storage.Checkpoint{
		StatePath: cfg.Path(cfg.StateFile),
		SeenPath:  cfg.Path(cfg.SeenFile),
	}
	frontier := crawler.NewFrontier(client, logs, names, checkpoint, tracker, frontierOpts...)

	// Handle resume logic
	if opts.Resume {
		ok, err := frontier.Load()
		if err != nil {
			logrus.Errorf("Failed to load checkpoint: %v", err)
			return 1
		}
		if !ok {
			logrus.Info("No checkpoint found, starting fresh")
		}
	}

	indexed, err := names.Count()
	if err != nil {
		logrus.Errorf("Failed to inspect name index: %v", err)
		return 1
	}
	if indexed < frontier.SeenCount() {
		logrus.Infof("Name index has %d entries but %d nodes were seen, rebuilding", indexed, frontier.SeenCount())
		stats, err := names.Rebuild(metadataLog)
		if err != nil {
			logrus.Errorf("Failed to rebuild name index: %v", err)
			return 1
		}
		tracker.AddSkippedRecords(stats.Skipped())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, seed := range cfg.Seeds {
		if _, _, err := frontier.Seed(ctx, seed); err != nil {
			if errors.Is(err, lastfm.ErrUnauthorized) {
				logrus.Errorf("Upstream rejected the API key: %v", err)
				writeMetrics(tracker, cfg.Path(cfg.MetricsPath), crawler.ReasonUnauthorized)
				return 1
			}
			logrus.Warnf("Skipping seed: %v", err)
		}
	}
	if frontier.QueueSize() == 0 {
		logrus.Warn("Nothing to crawl: the queue is empty")
	}

	// Metrics endpoint
	var server *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", tracker.Handler())
		server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("Metrics server failed: %v", err)
			}
		}()
		logrus.Infof("Serving metrics on %s/metrics", cfg.MetricsAddr)
	}

	// First signal stops after the current batch, the second forces exit
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		logrus.Infof("Received signal: %v, finishing current batch...", sig)
		cancel()

		sig, ok = <-sigChan
		if !ok {
			return
		}
		logrus.Warnf("Received second signal (%v) - forcing immediate exit!", sig)
		if err := tracker.WriteToFile(cfg.Path(cfg.MetricsPath), "forced_exit"); err != nil {
			logrus.Errorf("Emergency metrics save failed: %v", err)
		}
		os.Exit(1)
	}()

	// Start progress logger
	var wg sync.WaitGroup
	stopProgress := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logrus.Info(tracker.LogProgress())
			case <-stopProgress:
				return
			}
		}
	}()

	c := crawler.NewCrawler(frontier, tracker, crawler.RunOptions{
		MaxNodes:        cfg.MaxNodes,
		BatchSize:       cfg.BatchSize,
		CheckpointEvery: cfg.CheckpointEvery,
		BatchDelay:      cfg.BatchDelay(),
	})
	result, runErr := c.Run(ctx)

	close(stopProgress)
	wg.Wait()

	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("Metrics server shutdown: %v", err)
		}
		done()
	}

	logrus.Info("Final stats: " + tracker.LogProgress())
	writeMetrics(tracker, cfg.Path(cfg.MetricsPath), result.Reason)

	if runErr != nil {
		if errors.Is(runErr, lastfm.ErrUnauthorized) {
			logrus.Errorf("Upstream rejected the API key, state saved for resume: %v", runErr)
		} else {
			logrus.Errorf("Crawl failed: %v", runErr)
		}
		return 1
	}

	logrus.Info("Shutdown complete. Goodbye!")
	return 0
}

// loadKnown collects every id recorded in an earlier metadata log
func loadKnown(path string) (map[identity.NodeID]struct{}, error) {
	known := make(map[identity.NodeID]struct{})
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return known, nil
	}
	_, err := storage.ReadMetadataLog(path, func(rec storage.MetadataRecord) error {
		known[rec.ID] = struct{}{}
		return nil
	})
	return known, err
}

func writeMetrics(tracker *metrics.Tracker, path, reason string) {
	if err := tracker.WriteToFile(path, reason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
		return
	}
	logrus.Infof("Metrics written to %s", path)
}
