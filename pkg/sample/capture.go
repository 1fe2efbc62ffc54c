// Package sample persists raw page payloads for offline inspection.
//
// Capture sits outside the write-then-checkpoint critical path: it is
// strictly best effort and never fails or blocks a run. Payloads are
// stored LZ4-compressed, one file per fetched page.
package sample

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

const dirPerm = 0o750

// Capture writes raw page payloads below a base directory, one
// subdirectory per source.
type Capture struct {
	dir string
	log *slog.Logger
}

// New creates a capture rooted at dir. A nil logger falls back to the
// default slog logger.
func New(dir string, log *slog.Logger) *Capture {
	if log == nil {
		log = slog.Default()
	}

	return &Capture{dir: dir, log: log}
}

// Page stores one raw page payload. Failures are logged and swallowed:
// sample capture must never abort ingestion.
func (c *Capture) Page(source string, page int, payload []byte) {
	if c == nil {
		return
	}

	sourceDir := filepath.Join(c.dir, source)

	err := os.MkdirAll(sourceDir, dirPerm)
	if err != nil {
		c.log.Warn("sample capture skipped", "source", source, "page", page, "error", err)

		return
	}

	path := filepath.Join(sourceDir, fmt.Sprintf("page_%04d.json.lz4", page))

	writeErr := writeCompressed(path, payload)
	if writeErr != nil {
		c.log.Warn("sample capture skipped", "source", source, "page", page, "error", writeErr)
	}
}

func writeCompressed(path string, payload []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create sample file: %w", err)
	}
	defer file.Close()

	zw := lz4.NewWriter(file)

	_, writeErr := zw.Write(payload)
	if writeErr != nil {
		return fmt.Errorf("compress sample: %w", writeErr)
	}

	closeErr := zw.Close()
	if closeErr != nil {
		return fmt.Errorf("flush sample: %w", closeErr)
	}

	return nil
}
