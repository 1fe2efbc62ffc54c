// Package checkpoint provides durable per-source ingestion progress.
//
// A checkpoint records how far a source has been ingested: the cursor of
// the last record that was validated and durably written, plus run
// metadata. Checkpoints are never removed automatically; clearing one is
// the documented way to reprocess a source from scratch.
package checkpoint

import "time"

// Checkpoint is the durable progress record for one source.
type Checkpoint struct {
	// Source is the unique source name this checkpoint belongs to.
	Source string `json:"source"`

	// Cursor is an opaque, source-defined ordering value (a timestamp,
	// an offset, or a page token). Once persisted it must correspond to
	// a record that was fully validated and durably written.
	Cursor string `json:"cursor"`

	// LastRunAt is when the checkpoint was last advanced.
	LastRunAt time.Time `json:"last_run_at"`

	// RecordsTotal counts records written across all runs of the source.
	RecordsTotal int64 `json:"records_total"`
}

// Store persists checkpoints keyed by source name. Set must be an atomic,
// durable single-key upsert: the coordinator treats its return as the
// signal that the next batch may start.
type Store interface {
	// Get returns the checkpoint for a source. A missing checkpoint is
	// the normal state for a first run and is reported via the bool,
	// not as an error.
	Get(source string) (Checkpoint, bool, error)

	// Set durably replaces the checkpoint for a source.
	Set(cp Checkpoint) error

	// Delete removes the checkpoint for a source. Deleting an unknown
	// source is not an error.
	Delete(source string) error

	// List returns all stored checkpoints, ordered by source name.
	List() ([]Checkpoint, error)

	// Close releases the underlying store.
	Close() error
}
