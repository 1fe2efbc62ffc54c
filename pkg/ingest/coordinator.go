// Package ingest orchestrates one source end to end: fetch a page,
// validate it, land the accepted records, and only then advance the
// durable checkpoint.
//
// The ordering is the crux: at every observable point either both "data
// durably written" and "checkpoint advanced" hold, or neither does. A
// crash between the write and the checkpoint simply re-delivers the same
// batch on the next run, which the loader absorbs by overwriting.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/tributary-data/tributary/internal/metrics"
	"github.com/tributary-data/tributary/pkg/checkpoint"
	"github.com/tributary-data/tributary/pkg/config"
	"github.com/tributary-data/tributary/pkg/extract"
	"github.com/tributary-data/tributary/pkg/record"
	"github.com/tributary-data/tributary/pkg/schema"
)

// Stage identifies a state of the per-source run state machine.
type Stage string

// Run stages. Failed is terminal and reachable from fetching,
// validating, and writing; checkpointing failures are terminal too but
// leave all landed data valid.
const (
	StageIdle          Stage = "idle"
	StageFetching      Stage = "fetching"
	StageValidating    Stage = "validating"
	StageWriting       Stage = "writing"
	StageCheckpointing Stage = "checkpointing"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// CursorComplete marks a keyless whole-file source as fully ingested.
// Its presence in the checkpoint store makes re-runs a no-op until the
// checkpoint is cleared.
const CursorComplete = "complete"

// ErrRejectionThreshold marks a batch whose rejected fraction exceeded
// the configured quality threshold. Nothing from that batch is written.
var ErrRejectionThreshold = errors.New("validation rejections above threshold")

// Loader is the external columnar writer collaborator. Write must be
// atomic per batch and idempotent under re-delivery of an identical
// batch, and must only return once the batch is durable.
type Loader interface {
	Write(ctx context.Context, records []record.Validated) (int, error)
}

// Options bounds one source run.
type Options struct {
	// MaxPages caps pagination per run.
	MaxPages int

	// MaxBatchSize splits oversized pages into separate
	// write-then-checkpoint units.
	MaxBatchSize int

	// MaxRejectFraction is the per-batch rejected fraction above which
	// the run fails without writing.
	MaxRejectFraction float64

	// FetchRetries bounds retries of one page fetch. Retries never span
	// into the writing stage.
	FetchRetries uint64

	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Summary reports one finished source run.
type Summary struct {
	Source string
	RunID  string

	// Stage is the stage reached: StageDone on success, otherwise the
	// stage the run failed in.
	Stage Stage

	Fetched  int
	Accepted int
	Rejected int
	Written  int

	// Cursor is the last successfully committed cursor, enabling a safe
	// re-run after a failure.
	Cursor string

	// Truncated records that the source cut pagination short because
	// its result window was exhausted.
	Truncated bool

	Duration time.Duration
	Err      error
}

// Failed reports whether the run ended in the failed state.
func (s Summary) Failed() bool {
	return s.Stage != StageDone
}

// Coordinator runs one source. It is single-use and single-threaded:
// sources in one invocation run sequentially, so no locking guards the
// checkpoint.
type Coordinator struct {
	src       config.Source
	extractor extract.Extractor
	validator *schema.Validator
	loader    Loader
	store     checkpoint.Store
	collector *metrics.Collector
	opts      Options
	log       *slog.Logger
	now       func() time.Time
}

// New assembles a coordinator for one source.
func New(
	src config.Source,
	extractor extract.Extractor,
	validator *schema.Validator,
	loader Loader,
	store checkpoint.Store,
	collector *metrics.Collector,
	opts Options,
	log *slog.Logger,
) *Coordinator {
	if log == nil {
		log = slog.Default()
	}

	return &Coordinator{
		src:       src,
		extractor: extractor,
		validator: validator,
		loader:    loader,
		store:     store,
		collector: collector,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// Run executes the source run to a terminal stage. The returned summary
// always names the stage reached and the last committed cursor.
func (c *Coordinator) Run(ctx context.Context) Summary {
	start := c.now()

	summary := Summary{
		Source: c.src.Name,
		RunID:  uuid.NewString(),
		Stage:  StageIdle,
	}

	cp, found, err := c.store.Get(c.src.Name)
	if err != nil {
		// Store unavailable: fail before any checkpoint mutation.
		return c.fail(summary, start, StageIdle, fmt.Errorf("load checkpoint: %w", err))
	}

	cursor := cp.Cursor
	recordsTotal := cp.RecordsTotal
	summary.Cursor = cursor

	c.log.Info("run started",
		"source", c.src.Name, "run_id", summary.RunID,
		"resuming", found, "cursor", cursor)

	pageToken := ""

	for pages := 0; pages < c.opts.MaxPages; pages++ {
		if ctx.Err() != nil {
			return c.fail(summary, start, StageFetching, ctx.Err())
		}

		summary.Stage = StageFetching

		page, fetchErr := c.fetchPage(ctx, cursor, pageToken)
		if fetchErr != nil {
			return c.fail(summary, start, StageFetching, fetchErr)
		}

		summary.Fetched += len(page.Records)
		summary.Truncated = summary.Truncated || page.Truncated
		c.collector.ObserveFetched(c.src.Name, len(page.Records))

		summary.Stage = StageValidating

		accepted, rejected := c.partition(page.Records)
		summary.Accepted += len(accepted)
		summary.Rejected += len(rejected)
		c.collector.ObserveAccepted(c.src.Name, len(accepted))
		c.collector.ObserveRejected(c.src.Name, len(rejected))

		if thresholdErr := c.checkThreshold(len(page.Records), len(rejected)); thresholdErr != nil {
			return c.fail(summary, start, StageValidating, thresholdErr)
		}

		for _, batch := range c.batches(accepted) {
			if ctx.Err() != nil {
				// Cancellation is honored between transitions only;
				// an in-flight write always runs to confirmation.
				return c.fail(summary, start, StageWriting, ctx.Err())
			}

			summary.Stage = StageWriting

			written, writeErr := c.loader.Write(ctx, batch.Records)
			if writeErr != nil {
				return c.fail(summary, start, StageWriting, fmt.Errorf("write batch: %w", writeErr))
			}

			summary.Written += written
			recordsTotal += int64(written)
			c.collector.ObserveWritten(c.src.Name, written)

			summary.Stage = StageCheckpointing

			if batch.Cursor != "" {
				cursor = batch.Cursor
			}

			setErr := c.store.Set(checkpoint.Checkpoint{
				Source:       c.src.Name,
				Cursor:       cursor,
				LastRunAt:    c.now().UTC(),
				RecordsTotal: recordsTotal,
			})
			if setErr != nil {
				// The batch is durable but the checkpoint did not
				// advance; the next run re-delivers it harmlessly.
				return c.fail(summary, start, StageCheckpointing, fmt.Errorf("advance checkpoint: %w", setErr))
			}

			summary.Cursor = cursor
		}

		if page.Done {
			break
		}

		pageToken = page.NextToken
	}

	summary.Stage = StageDone
	summary.Duration = c.now().Sub(start)
	c.collector.ObserveRun(c.src.Name, string(StageDone))

	c.log.Info("run finished",
		"source", c.src.Name, "run_id", summary.RunID,
		"fetched", summary.Fetched, "accepted", summary.Accepted,
		"rejected", summary.Rejected, "written", summary.Written,
		"cursor", summary.Cursor, "truncated", summary.Truncated)

	return summary
}

// fetchPage retrieves one page, retrying transport failures with
// exponential backoff. Auth failures and malformed payloads are
// permanent: they surface immediately.
func (c *Coordinator) fetchPage(ctx context.Context, cursor, pageToken string) (record.Page, error) {
	attempts := 0

	operation := func() (record.Page, error) {
		attempts++

		page, err := c.extractor.FetchPage(ctx, cursor, pageToken)
		if err != nil {
			if errors.Is(err, extract.ErrAuth) || errors.Is(err, extract.ErrMalformedPage) {
				return record.Page{}, backoff.Permanent(err)
			}

			c.log.Warn("page fetch failed, retrying",
				"source", c.src.Name, "attempt", attempts, "error", err)

			return record.Page{}, err
		}

		return page, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.BackoffInitial
	policy.MaxInterval = c.opts.BackoffMax

	page, err := backoff.RetryWithData(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, c.opts.FetchRetries), ctx),
	)
	if err != nil {
		return record.Page{}, fmt.Errorf("fetch failed after %d attempt(s): %w", attempts, err)
	}

	return page, nil
}

// partition validates every record of a page independently; records
// carry no ordering dependency between each other.
func (c *Coordinator) partition(raws []record.Raw) ([]record.Validated, []record.Rejection) {
	var (
		accepted []record.Validated
		rejected []record.Rejection
	)

	ingestTS := c.now().UTC()

	for _, raw := range raws {
		outcome := c.validator.Validate(raw)
		if !outcome.Accepted() {
			c.log.Warn("record rejected",
				"source", c.src.Name, "reason", outcome.Rejection.Reason)

			rejected = append(rejected, *outcome.Rejection)

			continue
		}

		record.StampIngest(outcome.Record, ingestTS)
		accepted = append(accepted, outcome.Record)
	}

	return accepted, rejected
}

func (c *Coordinator) checkThreshold(fetched, rejected int) error {
	if fetched == 0 || rejected == 0 {
		return nil
	}

	fraction := float64(rejected) / float64(fetched)
	if fraction > c.opts.MaxRejectFraction {
		return fmt.Errorf("%w: %d of %d records (%.0f%%)",
			ErrRejectionThreshold, rejected, fetched, fraction*100)
	}

	return nil
}

// batches splits accepted records into write-then-checkpoint units and
// computes each unit's cursor: the highest ordering key among its
// accepted records, never a rejected one, so a rejected record can be
// re-fetched corrected on the next run. Taking the maximum rather than
// the positionally last key keeps the cursor monotonic for sources that
// deliver rows out of order, such as appended CSV files.
func (c *Coordinator) batches(accepted []record.Validated) []record.Batch {
	if len(accepted) == 0 {
		// A page of only-rejected records still advances pagination but
		// never the cursor.
		return nil
	}

	size := c.opts.MaxBatchSize
	if size <= 0 {
		size = len(accepted)
	}

	var batches []record.Batch

	for start := 0; start < len(accepted); start += size {
		end := min(start+size, len(accepted))
		chunk := accepted[start:end]

		batches = append(batches, record.Batch{
			Records: chunk,
			Cursor:  c.batchCursor(chunk),
		})
	}

	return batches
}

func (c *Coordinator) batchCursor(chunk []record.Validated) string {
	if c.src.CheckpointKey == "" {
		return CursorComplete
	}

	maxKey := ""

	for _, rec := range chunk {
		key := ""

		switch v := rec[c.src.CheckpointKey].(type) {
		case string:
			key = v
		case time.Time:
			key = v.UTC().Format(time.RFC3339)
		}

		if key > maxKey {
			maxKey = key
		}
	}

	return maxKey
}

func (c *Coordinator) fail(summary Summary, start time.Time, stage Stage, err error) Summary {
	summary.Stage = stage
	summary.Err = err
	summary.Duration = c.now().Sub(start)
	c.collector.ObserveRun(c.src.Name, string(StageFailed))

	c.log.Error("run failed",
		"source", c.src.Name, "run_id", summary.RunID,
		"stage", stage, "cursor", summary.Cursor, "error", err)

	return summary
}
