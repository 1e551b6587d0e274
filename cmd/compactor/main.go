package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alvmarrod/artist-weaver/internal/config"
	"github.com/alvmarrod/artist-weaver/internal/graphstore"
	"github.com/alvmarrod/artist-weaver/internal/metastore"
	"github.com/alvmarrod/artist-weaver/internal/publish"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

// Output file names
const (
	forwardFile  = "graph.bin"
	reverseFile  = "graph_reverse.bin"
	metadataFile = "metadata.bin"
	indexFile    = "graph_binary_index.json"
)

// Options are the command-line flags. They override the config file.
type Options struct {
	Config      string `long:"config" description:"path to the JSON config file"`
	GraphLog    string `long:"graph-log" description:"adjacency log to compact"`
	MetadataLog string `long:"metadata-log" description:"metadata log to compact"`
	OutDir      string `long:"out-dir" description:"directory for the binary outputs"`
	ReverseMode string `long:"reverse-mode" choice:"memory" choice:"chunked" description:"how the reverse graph is built"`
	WriteIndex  bool   `long:"write-index" description:"also write the forward offset index as JSON"`
	Publish     bool   `long:"publish" description:"upload the outputs to the configured S3 bucket"`
	Verbose     bool   `long:"verbose" short:"v" description:"enable debug logging"`
}

// paths are the resolved inputs and outputs of one compaction
type paths struct {
	graphLog    string
	metadataLog string
	forward     string
	reverse     string
	metadata    string
	index       string
}

func main() {
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
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
	if opts.ReverseMode != "" {
		cfg.ReverseMode = opts.ReverseMode
	}
	if opts.OutDir != "" {
		cfg.OutDir = opts.OutDir
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	p := resolvePaths(cfg, opts)
	for _, input := range []string{p.graphLog, p.metadataLog} {
		if _, err := os.Stat(input); err != nil {
			logrus.Fatalf("Missing input: %v", err)
		}
	}

	var publisher *publish.S3Publisher
	if opts.Publish {
		cfg.LoadEnv()
		var err error
		publisher, err = publish.NewS3Publisher(publish.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			logrus.Fatalf("Failed to configure publisher: %v", err)
		}
	}

	// Compaction is not interruptible; only the upload honours signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := compact(ctx, cfg, p, opts.WriteIndex, publisher); err != nil {
		logrus.Errorf("Compaction failed: %v", err)
		stop()
		os.Exit(1)
	}
}

func resolvePaths(cfg *config.Config, opts Options) paths {
	p := paths{
		graphLog:    cfg.Path(cfg.GraphLog),
		metadataLog: cfg.Path(cfg.MetadataLog),
		forward:     cfg.OutPath(forwardFile),
		reverse:     cfg.OutPath(reverseFile),
		metadata:    cfg.OutPath(metadataFile),
		index:       cfg.OutPath(indexFile),
	}
	if opts.GraphLog != "" {
		p.graphLog = opts.GraphLog
	}
	if opts.MetadataLog != "" {
		p.metadataLog = opts.MetadataLog
	}
	if opts.OutDir != "" {
		p.forward = filepath.Join(opts.OutDir, forwardFile)
		p.reverse = filepath.Join(opts.OutDir, reverseFile)
		p.metadata = filepath.Join(opts.OutDir, metadataFile)
		p.index = filepath.Join(opts.OutDir, indexFile)
	}
	return p
}

func compact(ctx context.Context, cfg *config.Config, p paths, writeIndex bool, publisher *publish.S3Publisher) error {
	start := time.Now()
	convertOpts := graphstore.Options{
		WriteBufferSize:     cfg.WriteBufferBytes,
		ReverseChunkTargets: cfg.ReverseChunkTargets,
	}

	logrus.Info("Step 1/4: Encoding forward graph...")
	forward, fwdStats, err := graphstore.ConvertForward(p.graphLog, p.forward, convertOpts)
	if err != nil {
		return err
	}
	if writeIndex {
		if err := forward.WriteJSON(p.index); err != nil {
			return err
		}
	}

	logrus.Infof("Step 2/4: Encoding reverse graph (%s mode)...", cfg.ReverseMode)
	var reverse *graphstore.Index
	var revStats graphstore.Stats
	switch cfg.ReverseMode {
	case config.ReverseModeChunked:
		reverse, revStats, err = graphstore.ConvertReverseChunked(p.forward, p.reverse, convertOpts)
	default:
		reverse, revStats, err = graphstore.ConvertReverse(p.graphLog, p.reverse, convertOpts)
	}
	if err != nil {
		return err
	}
	if revStats.Edges != fwdStats.Edges {
		return fmt.Errorf("reverse graph has %d edges, forward has %d", revStats.Edges, fwdStats.Edges)
	}

	logrus.Info("Step 3/4: Building metadata store...")
	metaStats, err := metastore.Build(p.metadata, metastore.Input{
		MetadataLog: p.metadataLog,
		Forward:     forward,
		Reverse:     reverse,
	})
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"records":          fwdStats.Records,
		"edges":            fwdStats.Edges,
		"targets":          revStats.Records,
		"names":            metaStats.LookupNames,
		"nodes":            metaStats.MetadataEntries,
		"skipped_graph":    fwdStats.Skipped(),
		"skipped_metadata": metaStats.SkippedRecords,
		"elapsed":          time.Since(start).Round(time.Millisecond),
	}).Info("Compaction complete")

	if publisher == nil {
		logrus.Info("Step 4/4: Publishing skipped")
		return nil
	}

	logrus.Info("Step 4/4: Publishing outputs...")
	files := []string{p.forward, p.reverse, p.metadata}
	if writeIndex {
		files = append(files, p.index)
	}
	keys, err := publisher.Publish(ctx, files...)
	if err != nil {
		return fmt.Errorf("publish failed after %d of %d files: %w", len(keys), len(files), err)
	}
	return nil
}
