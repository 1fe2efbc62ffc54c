package parquet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-data/tributary/pkg/record"
	"github.com/tributary-data/tributary/pkg/schema"
)

func testContract() schema.Contract {
	return schema.Contract{Fields: []schema.Field{
		{Name: "id", Type: schema.TypeInt64, Required: true},
		{Name: "title", Type: schema.TypeString, Required: true},
		{Name: "updated_at", Type: schema.TypeTimestamp, Required: true},
	}}
}

func testRecord(id int64, ingestDay int) record.Validated {
	return record.Validated{
		"id":         id,
		"title":      "Example",
		"updated_at": time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		"ingest_ts":  time.Date(2025, 6, ingestDay, 8, 30, 0, 0, time.UTC),
	}
}

func partFiles(t *testing.T, dir string) []string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, "part-*.parquet"))
	require.NoError(t, err)

	return matches
}

func TestWriter_Write_PartitionLayout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := NewWriter(root, "bronze/github/issues", "ingest_date", testContract(), nil)

	result, err := w.Write(context.Background(), []record.Validated{
		testRecord(1, 1),
		testRecord(2, 1),
		testRecord(3, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Written)
	assert.Equal(t, []string{"2025-06-01", "2025-06-02"}, result.Partitions)

	dayOne := filepath.Join(root, "bronze", "github", "issues", "ingest_date=2025-06-01")
	dayTwo := filepath.Join(root, "bronze", "github", "issues", "ingest_date=2025-06-02")
	assert.Len(t, partFiles(t, dayOne), 1)
	assert.Len(t, partFiles(t, dayTwo), 1)

	// No temp files left behind.
	leftovers, err := filepath.Glob(filepath.Join(dayOne, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWriter_Write_IdenticalBatchOverwrites(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := NewWriter(root, "bronze/github/issues", "ingest_date", testContract(), nil)

	batch := []record.Validated{testRecord(1, 1), testRecord(2, 1)}

	_, err := w.Write(context.Background(), batch)
	require.NoError(t, err)

	dir := filepath.Join(root, "bronze", "github", "issues", "ingest_date=2025-06-01")
	first := partFiles(t, dir)
	require.Len(t, first, 1)

	// Re-delivering the same batch (crash between write and checkpoint)
	// must replace the same part file, not append a second one.
	_, err = w.Write(context.Background(), batch)
	require.NoError(t, err)

	second := partFiles(t, dir)
	require.Len(t, second, 1)
	assert.Equal(t, first[0], second[0])
}

func TestWriter_Write_RedeliveryWithFreshIngestStampOverwrites(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := NewWriter(root, "bronze/github/issues", "ingest_date", testContract(), nil)

	stamped := func(at time.Time) []record.Validated {
		rec := testRecord(1, 1)
		rec["ingest_ts"] = at

		return []record.Validated{rec}
	}

	// A retry after a crash re-stamps ingest_ts from the wall clock; the
	// source data is unchanged, so the part name must be too.
	_, err := w.Write(context.Background(), stamped(time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)))
	require.NoError(t, err)

	_, err = w.Write(context.Background(), stamped(time.Date(2025, 6, 1, 8, 30, 5, 0, time.UTC)))
	require.NoError(t, err)

	dir := filepath.Join(root, "bronze", "github", "issues", "ingest_date=2025-06-01")
	assert.Len(t, partFiles(t, dir), 1)
}

func TestWriter_Write_DistinctBatchesCoexist(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := NewWriter(root, "bronze/github/issues", "ingest_date", testContract(), nil)

	_, err := w.Write(context.Background(), []record.Validated{testRecord(1, 1)})
	require.NoError(t, err)

	_, err = w.Write(context.Background(), []record.Validated{testRecord(2, 1)})
	require.NoError(t, err)

	dir := filepath.Join(root, "bronze", "github", "issues", "ingest_date=2025-06-01")
	assert.Len(t, partFiles(t, dir), 2)
}

func TestWriter_Write_EmptyBatchIsNoOp(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := NewWriter(root, "bronze/github/issues", "ingest_date", testContract(), nil)

	result, err := w.Write(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, result.Written)

	_, statErr := os.Stat(filepath.Join(root, "bronze"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriter_Write_NullsStayNull(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	contract := schema.Contract{Fields: []schema.Field{
		{Name: "id", Type: schema.TypeInt64, Required: true},
		{Name: "closed_at", Type: schema.TypeTimestamp},
	}}
	w := NewWriter(root, "bronze/github/issues", "ingest_date", contract, nil)

	rec := record.Validated{
		"id":        int64(1),
		"closed_at": nil,
		"ingest_ts": time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	result, err := w.Write(context.Background(), []record.Validated{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
}
