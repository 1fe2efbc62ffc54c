// Package parquet lands validated records as partitioned Parquet files.
//
// Layout: <root>/<dataset>/<partition_key>=<value>/part-<digest>.parquet.
// The part digest is derived from the batch contents, so re-writing an
// identical batch after a crash replaces the same file instead of
// appending a duplicate. Files become visible atomically via
// write-then-rename.
package parquet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tributary-data/tributary/pkg/record"
	"github.com/tributary-data/tributary/pkg/schema"
)

// Parquet column type tags per contract field type.
const (
	parquetInt64           = "type=INT64, repetitiontype=OPTIONAL"
	parquetBoolean         = "type=BOOLEAN, repetitiontype=OPTIONAL"
	parquetDouble          = "type=DOUBLE, repetitiontype=OPTIONAL"
	parquetString          = "type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"
	parquetTimestampMicros = "type=INT64, convertedtype=TIMESTAMP_MICROS, repetitiontype=OPTIONAL"
)

const (
	dirPerm = 0o750

	// digestLen truncates the part digest to keep filenames readable.
	digestLen = 16

	// rowGroupParallelism for the underlying CSV writer.
	rowGroupParallelism = 1
)

// Writer lands batches for one dataset.
type Writer struct {
	root         string
	dataset      string
	partitionKey string
	contract     schema.Contract
	log          *slog.Logger
}

// Result reports one landed batch.
type Result struct {
	Written    int
	Partitions []string
}

// NewWriter creates a writer for one dataset below the lake root.
// Column order follows the contract, with the partition key and
// ingest_ts appended.
func NewWriter(root, dataset, partitionKey string, contract schema.Contract, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}

	return &Writer{
		root:         root,
		dataset:      dataset,
		partitionKey: partitionKey,
		contract:     contract,
		log:          log,
	}
}

// Write lands one batch. It returns only after every partition file has
// been renamed into place, which is the durability confirmation the
// coordinator's checkpoint advancement relies on.
func (w *Writer) Write(ctx context.Context, records []record.Validated) (Result, error) {
	if len(records) == 0 {
		return Result{}, nil
	}

	byPartition := make(map[string][]record.Validated)

	for _, rec := range records {
		value := w.partitionValue(rec)
		byPartition[value] = append(byPartition[value], rec)
	}

	partitions := lo.Keys(byPartition)
	sort.Strings(partitions)

	written := 0

	for _, partition := range partitions {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		count, err := w.writePartition(partition, byPartition[partition])
		if err != nil {
			return Result{}, err
		}

		written += count
	}

	w.log.Info("batch landed",
		"dataset", w.dataset, "rows", written, "partitions", len(partitions))

	return Result{Written: written, Partitions: partitions}, nil
}

// partitionValue resolves the partition for one record: an explicit
// partition column wins, otherwise the ingest date is derived from
// ingest_ts.
func (w *Writer) partitionValue(rec record.Validated) string {
	if v, ok := rec[w.partitionKey]; ok && v != nil {
		if s, isString := v.(string); isString {
			return s
		}
	}

	if ts, ok := rec["ingest_ts"].(time.Time); ok {
		return ts.UTC().Format(time.DateOnly)
	}

	return time.Now().UTC().Format(time.DateOnly)
}

func (w *Writer) writePartition(partition string, records []record.Validated) (int, error) {
	dir := filepath.Join(w.root, filepath.FromSlash(w.dataset), fmt.Sprintf("%s=%s", w.partitionKey, partition))

	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return 0, fmt.Errorf("create partition dir: %w", err)
	}

	digest, err := w.batchDigest(records)
	if err != nil {
		return 0, err
	}

	final := filepath.Join(dir, fmt.Sprintf("part-%s.parquet", digest))
	tmp := final + ".tmp"

	writeErr := w.writeFile(tmp, records)
	if writeErr != nil {
		_ = os.Remove(tmp)

		return 0, writeErr
	}

	renameErr := os.Rename(tmp, final)
	if renameErr != nil {
		_ = os.Remove(tmp)

		return 0, fmt.Errorf("publish partition file: %w", renameErr)
	}

	return len(records), nil
}

func (w *Writer) writeFile(path string, records []record.Validated) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}

	pw, err := writer.NewCSVWriter(w.parquetSchema(), fw, rowGroupParallelism)
	if err != nil {
		_ = fw.Close()

		return fmt.Errorf("create parquet writer: %w", err)
	}

	for _, rec := range records {
		writeErr := pw.Write(w.row(rec))
		if writeErr != nil {
			_ = fw.Close()

			return fmt.Errorf("write parquet row: %w", writeErr)
		}
	}

	stopErr := pw.WriteStop()
	if stopErr != nil {
		_ = fw.Close()

		return fmt.Errorf("finalize parquet file: %w", stopErr)
	}

	return fw.Close()
}

// columns returns the output column order: contract fields, then the
// partition key, then ingest_ts.
func (w *Writer) columns() []schema.Field {
	fields := make([]schema.Field, 0, len(w.contract.Fields)+2)
	fields = append(fields, w.contract.Fields...)
	fields = append(fields,
		schema.Field{Name: w.partitionKey, Type: schema.TypeString},
		schema.Field{Name: "ingest_ts", Type: schema.TypeTimestamp},
	)

	return fields
}

func (w *Writer) parquetSchema() []string {
	columns := w.columns()
	tags := make([]string, 0, len(columns))

	for _, col := range columns {
		tags = append(tags, fmt.Sprintf("name=%s, %s", col.Name, typeTag(col.Type)))
	}

	return tags
}

func typeTag(t schema.FieldType) string {
	switch t {
	case schema.TypeInt64:
		return parquetInt64
	case schema.TypeFloat64:
		return parquetDouble
	case schema.TypeBool:
		return parquetBoolean
	case schema.TypeTimestamp:
		return parquetTimestampMicros
	default:
		return parquetString
	}
}

// row projects a validated record onto the column order, converting
// timestamps to epoch micros. Nulls stay nil.
func (w *Writer) row(rec record.Validated) []any {
	columns := w.columns()
	values := make([]any, 0, len(columns))

	for _, col := range columns {
		value, ok := rec[col.Name]
		if col.Name == w.partitionKey && (!ok || value == nil) {
			value = w.partitionValue(rec)
		}

		if value == nil {
			values = append(values, nil)

			continue
		}

		if ts, isTime := value.(time.Time); isTime {
			values = append(values, ts.UTC().UnixMicro())

			continue
		}

		values = append(values, value)
	}

	return values
}

// batchDigest hashes the contract-field values of the records, in
// contract order. Run-local columns (ingest_ts, the partition value
// derived from it) are excluded: a batch re-delivered after a crash
// carries a fresh ingest stamp but the same source data, and must
// reproduce the same part name so the retry overwrites instead of
// landing a duplicate file.
func (w *Writer) batchDigest(records []record.Validated) (string, error) {
	hasher := sha256.New()
	encoder := json.NewEncoder(hasher)

	row := make([]any, len(w.contract.Fields))

	for _, rec := range records {
		for i, field := range w.contract.Fields {
			value := rec[field.Name]
			if ts, isTime := value.(time.Time); isTime {
				value = ts.UTC().Format(time.RFC3339Nano)
			}

			row[i] = value
		}

		err := encoder.Encode(row)
		if err != nil {
			return "", fmt.Errorf("digest batch: %w", err)
		}
	}

	return hex.EncodeToString(hasher.Sum(nil))[:digestLen], nil
}
