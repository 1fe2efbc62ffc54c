package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.Error(t, err) // explicit path that does not exist is an error

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "./lake", cfg.Lake.Root)
	assert.Equal(t, "ingest_date", cfg.Lake.DefaultPartition)
	assert.Equal(t, "./state", cfg.State.Dir)
	assert.Equal(t, 30*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, 3, cfg.HTTP.RetryMax)
	assert.Equal(t, 100, cfg.Ingest.MaxPages)
	assert.Equal(t, 5000, cfg.Ingest.MaxBatchSize)
	assert.InDelta(t, 0.2, cfg.Quality.MaxRejectFraction, 1e-9)
	assert.False(t, cfg.Samples.Enabled)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
lake:
  root: /data/lake
http:
  retry_max: 5
  request_timeout: 10s
quality:
  max_reject_fraction: 0.05
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "/data/lake", cfg.Lake.Root)
	assert.Equal(t, 5, cfg.HTTP.RetryMax)
	assert.Equal(t, 10*time.Second, cfg.HTTP.RequestTimeout)
	assert.InDelta(t, 0.05, cfg.Quality.MaxRejectFraction, 1e-9)

	// Untouched settings keep defaults.
	assert.Equal(t, "./state", cfg.State.Dir)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TRIBUTARY_STATE_DIR", "/var/lib/tributary")

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/tributary", cfg.State.Dir)
}

func TestLoad_RejectsInvalidThreshold(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
quality:
  max_reject_fraction: 1.5
`)

	_, err := Load(path, "")
	require.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestLoadCatalog_PreservesOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "sources.yaml", `
sources:
  - name: github-issues
    kind: http.github
    destination: bronze/github/issues
    checkpoint_key: updated_at
    options:
      owner: golang
      repo: go
      per_page: 100
      token_env: GITHUB_TOKEN
  - name: legacy-csv
    kind: file.csv
    destination: bronze/legacy/events
    options:
      path: ./data/*.csv
    fields:
      - name: id
        type: int64
        required: true
      - name: created_at
        type: timestamp
`)

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog.Sources, 2)

	assert.Equal(t, "github-issues", catalog.Sources[0].Name)
	assert.Equal(t, KindGithub, catalog.Sources[0].Kind)
	assert.Equal(t, "updated_at", catalog.Sources[0].CheckpointKey)
	assert.Equal(t, "golang", catalog.Sources[0].Options.Owner)

	assert.Equal(t, "legacy-csv", catalog.Sources[1].Name)
	assert.Equal(t, KindCSV, catalog.Sources[1].Kind)
	require.Len(t, catalog.Sources[1].Fields, 2)
	assert.True(t, catalog.Sources[1].Fields[0].Required)
}

func TestLoadCatalog_RejectsDuplicatesAndUnknownKind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	dup := writeFile(t, dir, "dup.yaml", `
sources:
  - {name: a, kind: http.github, destination: x}
  - {name: a, kind: http.github, destination: y}
`)
	_, err := LoadCatalog(dup)
	require.ErrorIs(t, err, ErrDuplicateSource)

	unknown := writeFile(t, dir, "unknown.yaml", `
sources:
  - {name: a, kind: ftp.legacy, destination: x}
`)
	_, err = LoadCatalog(unknown)
	require.ErrorIs(t, err, ErrUnknownKind)

	empty := writeFile(t, dir, "empty.yaml", "sources: []\n")
	_, err = LoadCatalog(empty)
	require.ErrorIs(t, err, ErrNoSources)
}
