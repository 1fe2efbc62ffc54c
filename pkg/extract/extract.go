// Package extract pulls bounded pages of raw records from external
// sources, honoring a previously committed cursor so that each run only
// returns records strictly after it.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tributary-data/tributary/pkg/config"
	"github.com/tributary-data/tributary/pkg/record"
	"github.com/tributary-data/tributary/pkg/sample"
)

// Sentinel errors.
var (
	// ErrAuth marks authentication or authorization failures. Fatal for
	// the run and never retried.
	ErrAuth = errors.New("source authentication failed")

	// ErrMalformedPage marks a page payload that could not be decoded.
	// Extraction stops at the last well-formed page.
	ErrMalformedPage = errors.New("malformed page payload")
)

// Extractor pulls one page of raw records per call.
//
// The cursor is the committed ordering value of the previous run (empty
// on a first run: start from the source's epoch). The page token
// requests a specific page within the current run; pass the NextToken of
// the previous page, or empty for the first page. Implementations must
// never return records whose ordering key is at or before the cursor.
type Extractor interface {
	// Kind returns the source kind the extractor serves.
	Kind() string

	// FetchPage retrieves the next page of raw records.
	FetchPage(ctx context.Context, cursor, pageToken string) (record.Page, error)
}

// New builds the extractor for a configured source.
func New(src config.Source, httpCfg config.HTTPConfig, capture *sample.Capture, log *slog.Logger) (Extractor, error) {
	switch src.Kind {
	case config.KindGithub:
		return NewGithub(src, httpCfg, capture, log), nil
	case config.KindCSV:
		return NewCSV(src, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownKind, src.Kind)
	}
}
