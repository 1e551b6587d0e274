package main

import (
	"errors"
	"os"

	"github.com/alvmarrod/artist-weaver/internal/config"
	"github.com/alvmarrod/artist-weaver/internal/graphstore"
	"github.com/alvmarrod/artist-weaver/internal/metastore"
	"github.com/alvmarrod/artist-weaver/internal/pathfind"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

// Options are the command-line flags
type Options struct {
	Config         string  `long:"config" description:"path to the JSON config file"`
	Graph          string  `long:"graph" description:"forward graph file, defaults to graph.bin in the output directory"`
	Metadata       string  `long:"metadata" description:"metadata store, defaults to metadata.bin in the output directory"`
	ScanIndex      bool    `long:"scan-index" description:"rebuild the offset index from the graph file instead of the metadata store"`
	Weighted       bool    `long:"weighted" short:"w" description:"minimise one minus similarity instead of hop count"`
	MinMatch       float32 `long:"min-match" short:"m" default:"0" description:"ignore connections below this similarity"`
	TopRelated     int     `long:"top-related" short:"t" default:"80" description:"follow only the strongest connections of each artist"`
	ShowSimilarity bool    `long:"show-similarity" short:"s" description:"print the similarity of each step"`
	HideURLs       bool    `long:"hide-urls" description:"do not print artist urls"`
	Quiet          bool    `long:"quiet" short:"q" description:"print only the path"`
	Verbose        bool    `long:"verbose" short:"v" description:"print search statistics and debug logs"`

	Args struct {
		From string `positional-arg-name:"FROM" description:"artist to start from"`
		To   string `positional-arg-name:"TO" description:"artist to reach"`
	} `positional-args:"yes" required:"yes"`
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
	if opts.MinMatch < 0 || opts.MinMatch > 1 {
		logrus.Fatalf("--min-match must be between 0 and 1, got %v", opts.MinMatch)
	}
	if opts.TopRelated < 1 {
		logrus.Fatalf("--top-related must be >= 1, got %d", opts.TopRelated)
	}

	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.LoadConfig(opts.Config)
		if err != nil {
			logrus.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if opts.Graph == "" {
		opts.Graph = cfg.OutPath("graph.bin")
	}
	if opts.Metadata == "" {
		opts.Metadata = cfg.OutPath("metadata.bin")
	}

	if err := run(opts); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func run(opts Options) error {
	store, err := metastore.Open(opts.Metadata)
	if err != nil {
		return err
	}
	logrus.Debugf("Loaded %d names and %d nodes from %s", len(store.Names()), len(store.IDs()), opts.Metadata)

	from, err := pathfind.Resolve(store, opts.Args.From)
	if err != nil {
		return err
	}
	to, err := pathfind.Resolve(store, opts.Args.To)
	if err != nil {
		return err
	}

	reader, err := graphstore.Open(opts.Graph)
	if err != nil {
		return err
	}
	defer reader.Close()

	index := store.Forward
	if opts.ScanIndex {
		if index, err = graphstore.IndexBinary(opts.Graph); err != nil {
			return err
		}
		logrus.Debugf("Indexed %d records from %s", index.Len(), opts.Graph)
	}

	graph := pathfind.StoreGraph{Reader: reader, Index: index}
	searchOpts := pathfind.Options{MinMatch: opts.MinMatch, TopRelated: opts.TopRelated}

	search := pathfind.BFS
	if opts.Weighted {
		search = pathfind.Dijkstra
	}
	res, err := search(graph, from, to, searchOpts)
	if err != nil {
		return err
	}

	return pathfind.Render(os.Stdout, store, res, opts.Args.From, opts.Args.To, pathfind.Display{
		ShowSimilarity: opts.ShowSimilarity,
		HideURLs:       opts.HideURLs,
		Quiet:          opts.Quiet,
		Verbose:        opts.Verbose,
	})
}
