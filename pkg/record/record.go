// Package record defines the data types that flow between extraction,
// validation, and loading: raw source-shaped records, validated records,
// pages, and batches.
package record

import "time"

// Raw is an untyped record as produced by an extractor. Keys are
// source-shaped (possibly dotted, e.g. "user.login") and values carry
// whatever types the source's payload decoded to.
type Raw map[string]any

// Validated is a record that passed schema validation. Keys follow the
// declared output contract and values are normalized Go types
// (string, int64, bool, float64, time.Time).
type Validated map[string]any

// Rejection describes a raw record that failed validation.
type Rejection struct {
	Raw    Raw
	Reason string
}

// Outcome is the result of validating a single raw record: either a
// validated record or a rejection, never both.
type Outcome struct {
	Record    Validated
	Rejection *Rejection
}

// Accepted reports whether the outcome carries a validated record.
func (o Outcome) Accepted() bool {
	return o.Rejection == nil
}

// Accept wraps a validated record in an outcome.
func Accept(v Validated) Outcome {
	return Outcome{Record: v}
}

// Reject wraps a rejected raw record with its reason.
func Reject(raw Raw, reason string) Outcome {
	return Outcome{Rejection: &Rejection{Raw: raw, Reason: reason}}
}

// Page is one unit of extraction: a bounded, source-ordered slice of raw
// records plus pagination state.
type Page struct {
	// Records in source-native ascending order.
	Records []Raw

	// NextToken requests the following page. Empty when Done.
	NextToken string

	// Done indicates the source has no more pages after this one.
	Done bool

	// Truncated indicates the source refused further pagination because
	// its result window is exhausted. Not an error: the records collected
	// so far are still valid.
	Truncated bool
}

// Batch is the unit of atomicity for "write then advance checkpoint": the
// validated records of one page plus the cursor implied by the last
// accepted record.
type Batch struct {
	Records []Validated

	// Cursor is the highest ordering key among the accepted records, or
	// empty when no record in the batch carried the ordering key.
	Cursor string
}

// StampIngest records the ingestion timestamp on a validated record.
// The loader partitions on the derived ingest date.
func StampIngest(v Validated, at time.Time) {
	v["ingest_ts"] = at.UTC()
}
