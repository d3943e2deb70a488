package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
tokens:
  - "token-one"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"token-one"}, cfg.Tokens)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3, cfg.Queues.UploadConcurrency)
	assert.Equal(t, 3, cfg.Queues.DownloadConcurrency)
	assert.Equal(t, "msgvault.db", cfg.Scheduler.SQLitePath)
	assert.Equal(t, int64(8*1024*1024), cfg.Transfer.ChunkSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
tokens:
  - "t1"
  - "t2"
port: "9090"
queues:
  upload_concurrency: 5
  download_concurrency: 1
scheduler:
  sqlite_path: /data/jobs.db
  poll_ms: 100
transfer:
  chunk_size: 1048576
  out_dir: /data/files
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Tokens, 2)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5, cfg.Queues.UploadConcurrency)
	assert.Equal(t, 1, cfg.Queues.DownloadConcurrency)
	assert.Equal(t, "/data/jobs.db", cfg.Scheduler.SQLitePath)
	assert.Equal(t, 100, cfg.Scheduler.PollMillis)
	assert.Equal(t, int64(1048576), cfg.Transfer.ChunkSize)
	assert.Equal(t, "/data/files", cfg.Transfer.OutDir)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_RequiresTokens(t *testing.T) {
	path := writeConfig(t, `
port: "9090"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
}

func TestLoad_RejectsDuplicateTokens(t *testing.T) {
	path := writeConfig(t, `
tokens:
  - "same"
  - "same"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
