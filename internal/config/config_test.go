package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{"seeds": ["Radiohead"]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"Radiohead"}, cfg.Seeds)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 10, cfg.CheckpointEvery)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, ReverseModeMemory, cfg.ReverseMode)
	assert.Equal(t, filepath.Join("data", "graph.ndjson"), cfg.Path(cfg.GraphLog))
	assert.Equal(t, filepath.Join("data", "output", "graph.bin"), cfg.OutPath("graph.bin"))
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout())
	assert.Equal(t, time.Second, cfg.RetryInitial())
	assert.Equal(t, 100*time.Millisecond, cfg.BatchDelay())
}

func TestNegativeBatchDelayDisablesPause(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{"batch_delay_ms": -1}`))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.BatchDelay())
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{
		"data_dir": "/var/lib/weaver",
		"graph_log": "/mnt/logs/graph.ndjson",
		"batch_size": 25,
		"batch_delay_ms": 500,
		"reverse_mode": "chunked",
		"s3": {"endpoint": "minio:9000", "bucket": "graphs"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "/mnt/logs/graph.ndjson", cfg.Path(cfg.GraphLog))
	assert.Equal(t, "/var/lib/weaver/metadata.ndjson", cfg.Path(cfg.MetadataLog))
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchDelay())
	assert.Equal(t, ReverseModeChunked, cfg.ReverseMode)
	assert.Equal(t, "graphs", cfg.S3.Bucket)
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]string{
		"bad json":       `{`,
		"unknown field":  `{"max_depth": 3}`,
		"negative nodes": `{"max_nodes": -1}`,
		"short timeout":  `{"request_timeout_ms": 10}`,
		"retry window":   `{"retry_initial_ms": 5000, "retry_max_ms": 100}`,
		"reverse mode":   `{"reverse_mode": "disk"}`,
		"empty seed":     `{"seeds": ["Air", " "]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LASTFM_API_KEY", "")
	t.Setenv("API_KEY", "fallback-key")
	t.Setenv("S3_ACCESS_KEY", "access")
	t.Setenv("S3_SECRET_KEY", "secret")

	cfg := Default()
	cfg.LoadEnv()
	assert.Equal(t, "fallback-key", cfg.APIKey)
	assert.Equal(t, "access", cfg.S3.AccessKey)
	assert.Equal(t, "secret", cfg.S3.SecretKey)

	t.Setenv("LASTFM_API_KEY", "primary-key")
	cfg.LoadEnv()
	assert.Equal(t, "primary-key", cfg.APIKey)
}

func TestLoadEnvReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LASTFM_API_KEY=from-dotenv\n"), 0644))
	t.Setenv("LASTFM_API_KEY", "")
	os.Unsetenv("LASTFM_API_KEY")
	t.Setenv("API_KEY", "")

	cfg := Default()
	cfg.LoadEnv()
	assert.Equal(t, "from-dotenv", cfg.APIKey)
}
