package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Reverse graph build modes
const (
	ReverseModeMemory  = "memory"
	ReverseModeChunked = "chunked"
)

// Config holds all runtime configuration parameters
type Config struct {
	// Files. Relative names are resolved against DataDir.
	DataDir     string `json:"data_dir"`
	GraphLog    string `json:"graph_log"`
	MetadataLog string `json:"metadata_log"`
	StateFile   string `json:"state_file"`
	SeenFile    string `json:"seen_file"`
	NameIndex   string `json:"name_index"`
	OutDir      string `json:"out_dir"`
	MetricsPath string `json:"metrics_path"`
	MetricsAddr string `json:"metrics_addr"`
	SyncWrites  bool   `json:"sync_writes"`

	// Crawl
	Seeds           []string `json:"seeds"`
	MaxNodes        int      `json:"max_nodes"`
	BatchSize       int      `json:"batch_size"`
	CheckpointEvery int      `json:"checkpoint_every"`
	BatchDelayMs    int      `json:"batch_delay_ms"`
	SimilarLimit    int      `json:"similar_limit"`
	TagLimit        int      `json:"tag_limit"`
	IncludeTags     bool     `json:"include_tags"`
	NameCacheSize   int      `json:"name_cache_size"`

	// Upstream
	APIBaseURL        string  `json:"api_base_url"`
	UserAgent         string  `json:"user_agent"`
	RequestTimeoutMs  int     `json:"request_timeout_ms"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	RetryAttempts     int     `json:"retry_attempts"`
	RetryInitialMs    int     `json:"retry_initial_ms"`
	RetryMaxMs        int     `json:"retry_max_ms"`

	// Compaction
	WriteBufferBytes    int    `json:"write_buffer_bytes"`
	ReverseMode         string `json:"reverse_mode"`
	ReverseChunkTargets int    `json:"reverse_chunk_targets"`

	S3 S3Config `json:"s3"`

	// Secrets, environment only
	APIKey string `json:"-"`
}

// S3Config holds the artifact bucket settings
type S3Config struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	UseSSL    bool   `json:"use_ssl"`
	AccessKey string `json:"-"`
	SecretKey string `json:"-"`
}

// LoadConfig reads and validates configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// LoadEnv fills secrets from the environment, reading a .env file first if
// one exists
func (c *Config) LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using system environment variables")
	}
	c.APIKey = firstNonEmpty(os.Getenv("LASTFM_API_KEY"), os.Getenv("API_KEY"))
	c.S3.AccessKey = os.Getenv("S3_ACCESS_KEY")
	c.S3.SecretKey = os.Getenv("S3_SECRET_KEY")
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.GraphLog == "" {
		cfg.GraphLog = "graph.ndjson"
	}
	if cfg.MetadataLog == "" {
		cfg.MetadataLog = "metadata.ndjson"
	}
	if cfg.StateFile == "" {
		cfg.StateFile = "collection_state.json"
	}
	if cfg.SeenFile == "" {
		cfg.SeenFile = "seen_metadata.txt"
	}
	if cfg.NameIndex == "" {
		cfg.NameIndex = "names.db"
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "output"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.json"
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.CheckpointEvery == 0 {
		cfg.CheckpointEvery = 10
	}
	if cfg.BatchDelayMs == 0 {
		cfg.BatchDelayMs = 100
	}
	if cfg.SimilarLimit == 0 {
		cfg.SimilarLimit = 250
	}
	if cfg.TagLimit == 0 {
		cfg.TagLimit = 50
	}
	if cfg.NameCacheSize == 0 {
		cfg.NameCacheSize = 100000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "artist-weaver/1.0"
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 10000
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryInitialMs == 0 {
		cfg.RetryInitialMs = 1000
	}
	if cfg.RetryMaxMs == 0 {
		cfg.RetryMaxMs = 60000
	}
	if cfg.WriteBufferBytes == 0 {
		cfg.WriteBufferBytes = 8 << 20
	}
	if cfg.ReverseMode == "" {
		cfg.ReverseMode = ReverseModeMemory
	}
	if cfg.ReverseChunkTargets == 0 {
		cfg.ReverseChunkTargets = 1 << 20
	}
}

// validate checks that values are sensible
func validate(cfg *Config) error {
	if cfg.MaxNodes < 0 {
		return fmt.Errorf("max_nodes must be >= 0")
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1")
	}
	if cfg.CheckpointEvery < 1 {
		return fmt.Errorf("checkpoint_every must be >= 1")
	}
	if cfg.SimilarLimit < 1 || cfg.TagLimit < 1 {
		return fmt.Errorf("similar_limit and tag_limit must be >= 1")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0")
	}
	if cfg.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be >= 1")
	}
	if cfg.RetryMaxMs < cfg.RetryInitialMs {
		return fmt.Errorf("retry_max_ms must be >= retry_initial_ms")
	}
	if cfg.ReverseMode != ReverseModeMemory && cfg.ReverseMode != ReverseModeChunked {
		return fmt.Errorf("reverse_mode must be %q or %q", ReverseModeMemory, ReverseModeChunked)
	}
	for _, seed := range cfg.Seeds {
		if strings.TrimSpace(seed) == "" {
			return fmt.Errorf("seeds must not contain empty names")
		}
	}
	return nil
}

// Validate re-checks the configuration after command-line overrides
func (c *Config) Validate() error {
	return validate(c)
}

// Path resolves a configured file name against DataDir
func (c *Config) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

// OutPath resolves an output file name against OutDir
func (c *Config) OutPath(name string) string {
	if filepath.IsAbs(c.OutDir) {
		return filepath.Join(c.OutDir, name)
	}
	return filepath.Join(c.DataDir, c.OutDir, name)
}

// RequestTimeout returns the per-request timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// RetryInitial returns the first backoff interval
func (c *Config) RetryInitial() time.Duration {
	return time.Duration(c.RetryInitialMs) * time.Millisecond
}

// RetryMax returns the backoff interval cap
func (c *Config) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxMs) * time.Millisecond
}

// BatchDelay returns the pause between batches. A negative batch_delay_ms
// disables it.
func (c *Config) BatchDelay() time.Duration {
	if c.BatchDelayMs < 0 {
		return 0
	}
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
