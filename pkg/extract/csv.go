package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/tributary-data/tributary/pkg/config"
	"github.com/tributary-data/tributary/pkg/record"
)

// CSV extracts every row of the files matching a glob pattern as one
// single page (whole-file ingestion).
//
// When the source declares a checkpoint key, rows at or before the
// committed cursor are skipped, so re-runs pick up only appended rows.
// Without a checkpoint key the source is only consumable once: a run
// that finds an existing checkpoint returns zero records.
type CSV struct {
	src config.Source
	log *slog.Logger
}

// NewCSV builds a local CSV extractor for one source.
func NewCSV(src config.Source, log *slog.Logger) *CSV {
	if log == nil {
		log = slog.Default()
	}

	return &CSV{src: src, log: log}
}

// Kind implements Extractor.Kind.
func (c *CSV) Kind() string {
	return config.KindCSV
}

// FetchPage implements Extractor.FetchPage. The entire dataset is
// returned as a single page with Done set.
func (c *CSV) FetchPage(ctx context.Context, cursor, _ string) (record.Page, error) {
	if cursor != "" && c.src.CheckpointKey == "" {
		// Whole-file source already ingested; re-runs are a no-op until
		// the checkpoint is cleared.
		c.log.Info("checkpoint present for whole-file source, skipping",
			"source", c.src.Name)

		return record.Page{Done: true}, nil
	}

	paths, err := filepath.Glob(c.src.Options.Path)
	if err != nil {
		return record.Page{}, fmt.Errorf("bad csv glob %q: %w", c.src.Options.Path, err)
	}

	sort.Strings(paths)

	var records []record.Raw

	for _, path := range paths {
		if ctx.Err() != nil {
			return record.Page{}, ctx.Err()
		}

		fileRecords, readErr := c.readFile(path, cursor)
		if readErr != nil {
			return record.Page{}, readErr
		}

		records = append(records, fileRecords...)
	}

	return record.Page{Records: records, Done: true}, nil
}

func (c *CSV) readFile(path, cursor string) ([]record.Raw, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s has no header row", ErrMalformedPage, path)
	}

	var records []record.Raw

	for {
		row, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPage, path, readErr)
		}

		raw := make(record.Raw, len(header))
		for i, column := range header {
			raw[column] = row[i]
		}

		if cursor != "" && c.src.CheckpointKey != "" {
			key, ok := raw[c.src.CheckpointKey].(string)
			if ok && key <= cursor {
				continue
			}
		}

		records = append(records, raw)
	}

	return records, nil
}
