package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-data/tributary/pkg/checkpoint"
	"github.com/tributary-data/tributary/pkg/config"
	"github.com/tributary-data/tributary/pkg/ingest"
	"github.com/tributary-data/tributary/pkg/parquet"
	"github.com/tributary-data/tributary/pkg/record"
	"github.com/tributary-data/tributary/pkg/schema"
)

func catalogSources() []config.Source {
	return []config.Source{
		{Name: "alpha", Kind: config.KindCSV, Destination: "alpha"},
		{Name: "beta", Kind: config.KindCSV, Destination: "beta"},
		{Name: "gamma", Kind: config.KindCSV, Destination: "gamma"},
	}
}

func TestSelectSourcesDefaultsToAll(t *testing.T) {
	t.Parallel()

	selected, err := selectSources(catalogSources(), nil)
	require.NoError(t, err)
	assert.Len(t, selected, 3)
}

func TestSelectSourcesKeepsCatalogOrder(t *testing.T) {
	t.Parallel()

	selected, err := selectSources(catalogSources(), []string{"gamma", "alpha"})
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "alpha", selected[0].Name)
	assert.Equal(t, "gamma", selected[1].Name)
}

func TestSelectSourcesRejectsUnknownName(t *testing.T) {
	t.Parallel()

	_, err := selectSources(catalogSources(), []string{"delta"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestRenderSummaryTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	run := &RunCommand{writer: &buf}
	run.renderSummary([]ingest.Summary{
		{
			Source:   "issues",
			Stage:    ingest.StageDone,
			Fetched:  12345,
			Accepted: 12000,
			Rejected: 345,
			Written:  12000,
			Cursor:   "2026-08-01T00:00:00Z",
			Duration: 1500 * time.Millisecond,
		},
		{
			Source:    "archive",
			Stage:     ingest.StageValidating,
			Err:       ingest.ErrRejectionThreshold,
			Truncated: true,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "issues")
	assert.Contains(t, out, "12,345")
	assert.Contains(t, out, "2026-08-01T00:00:00Z")
	assert.Contains(t, out, "failed (validating)")
	assert.Contains(t, out, "truncated")
	assert.Contains(t, out, "archive: validation rejections above threshold")
}

func TestParquetLoaderReportsWrittenCount(t *testing.T) {
	t.Parallel()

	contract := schema.Contract{Fields: []schema.Field{
		{Name: "id", Type: schema.TypeString, Required: true},
	}}
	writer := parquet.NewWriter(t.TempDir(), "events", "ingest_date", contract, nil)

	loader := parquetLoader{writer: writer}

	written, err := loader.Write(context.Background(), []record.Validated{
		{"id": "a", "ingest_ts": time.Now().UTC()},
		{"id": "b", "ingest_ts": time.Now().UTC()},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, written)
}

func writeStateConfig(t *testing.T) (string, string) {
	t.Helper()

	stateDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfgYAML := "state:\n  dir: " + stateDir + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o600))

	return cfgPath, stateDir
}

func TestCheckpointListEmpty(t *testing.T) {
	t.Parallel()

	cfgPath, _ := writeStateConfig(t)

	var buf bytes.Buffer

	cc := &CheckpointCommand{configPath: cfgPath, writer: &buf}
	require.NoError(t, cc.List())
	assert.Contains(t, buf.String(), "no checkpoints stored")
}

func TestCheckpointListAndClear(t *testing.T) {
	t.Parallel()

	cfgPath, stateDir := writeStateConfig(t)

	store, err := checkpoint.OpenBadger(stateDir)
	require.NoError(t, err)
	require.NoError(t, store.Set(checkpoint.Checkpoint{
		Source:       "issues",
		Cursor:       "2026-08-01T00:00:00Z",
		LastRunAt:    time.Now().UTC(),
		RecordsTotal: 42,
	}))
	require.NoError(t, store.Close())

	var buf bytes.Buffer

	cc := &CheckpointCommand{configPath: cfgPath, writer: &buf}
	require.NoError(t, cc.List())
	assert.Contains(t, buf.String(), "issues")
	assert.Contains(t, buf.String(), "2026-08-01T00:00:00Z")

	buf.Reset()
	require.NoError(t, cc.Clear("issues"))
	assert.Contains(t, buf.String(), "checkpoint cleared: issues")

	buf.Reset()
	require.NoError(t, cc.List())
	assert.Contains(t, buf.String(), "no checkpoints stored")
}
