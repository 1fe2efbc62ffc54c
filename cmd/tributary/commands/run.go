// Package commands implements CLI command handlers for tributary.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tributary-data/tributary/internal/metrics"
	"github.com/tributary-data/tributary/pkg/checkpoint"
	"github.com/tributary-data/tributary/pkg/config"
	"github.com/tributary-data/tributary/pkg/extract"
	"github.com/tributary-data/tributary/pkg/ingest"
	"github.com/tributary-data/tributary/pkg/parquet"
	"github.com/tributary-data/tributary/pkg/record"
	"github.com/tributary-data/tributary/pkg/sample"
	"github.com/tributary-data/tributary/pkg/schema"
)

// Sentinel errors for run command failures.
var (
	// ErrSourcesFailed indicates at least one source run ended failed.
	ErrSourcesFailed = errors.New("source runs failed")

	// ErrUnknownSource indicates a --source selection not present in the
	// catalog.
	ErrUnknownSource = errors.New("source not in catalog")
)

// RunCommand holds configuration and dependencies for the run command.
type RunCommand struct {
	configPath  string
	env         string
	catalogPath string
	sources     []string
	metricsAddr string

	writer io.Writer
}

// NewRunCommand creates the run command with default dependencies.
func NewRunCommand() *cobra.Command {
	run := &RunCommand{writer: os.Stdout}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest every catalog source: fetch, validate, land, checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run.Execute(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&run.configPath, "config", "c", "", "config file (default config.yaml, or config.<env>.yaml)")
	cmd.Flags().StringVarP(&run.env, "env", "e", "", "environment name used to resolve the config file")
	cmd.Flags().StringVar(&run.catalogPath, "catalog", "sources.yaml", "source catalog file")
	cmd.Flags().StringSliceVarP(&run.sources, "source", "s", nil, "run only the named sources (default all)")
	cmd.Flags().StringVar(&run.metricsAddr, "metrics-addr", "", "listen address for /metrics (overrides config)")

	return cmd
}

// Execute runs every selected source sequentially and prints a summary
// table. It returns an error when any source run ends failed, so the
// process exit code reflects partial failure.
func (r *RunCommand) Execute(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.Default()

	cfg, err := config.Load(r.configPath, r.env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if r.metricsAddr != "" {
		cfg.Metrics.Addr = r.metricsAddr
	}

	catalog, err := config.LoadCatalog(r.catalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	selected, err := selectSources(catalog.Sources, r.sources)
	if err != nil {
		return err
	}

	registry, err := schema.NewRegistry(selected)
	if err != nil {
		return fmt.Errorf("build validators: %w", err)
	}

	store, err := checkpoint.OpenBadger(cfg.State.Dir)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer func() { _ = store.Close() }()

	collector := metrics.NewCollector()

	if cfg.Metrics.Addr != "" {
		serveErr := collector.Serve(ctx, cfg.Metrics.Addr, log)
		if serveErr != nil {
			log.Warn("metrics endpoint disabled", "error", serveErr)
		}
	}

	var capture *sample.Capture
	if cfg.Samples.Enabled {
		capture = sample.New(cfg.Samples.Dir, log)
	}

	summaries := make([]ingest.Summary, 0, len(selected))

	for _, src := range selected {
		summary, runErr := r.runSource(ctx, src, cfg, registry, store, collector, capture, log)
		if runErr != nil {
			return runErr
		}

		summaries = append(summaries, summary)

		// Cancellation aborts the remaining sources, not just the
		// current one.
		if ctx.Err() != nil {
			break
		}
	}

	r.renderSummary(summaries)

	failed := 0

	for _, s := range summaries {
		if s.Failed() {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrSourcesFailed, failed, len(summaries))
	}

	return nil
}

func (r *RunCommand) runSource(
	ctx context.Context,
	src config.Source,
	cfg *config.Config,
	registry *schema.Registry,
	store checkpoint.Store,
	collector *metrics.Collector,
	capture *sample.Capture,
	log *slog.Logger,
) (ingest.Summary, error) {
	validator, ok := registry.Validator(src.Name)
	if !ok {
		return ingest.Summary{}, fmt.Errorf("%w: %q", ErrUnknownSource, src.Name)
	}

	extractor, err := extract.New(src, cfg.HTTP, capture, log)
	if err != nil {
		return ingest.Summary{}, fmt.Errorf("build extractor for %q: %w", src.Name, err)
	}

	writer := parquet.NewWriter(
		cfg.Lake.Root,
		src.Destination,
		cfg.Lake.DefaultPartition,
		validator.Contract(),
		log,
	)

	coordinator := ingest.New(
		src,
		extractor,
		validator,
		parquetLoader{writer: writer},
		store,
		collector,
		ingest.Options{
			MaxPages:          cfg.Ingest.MaxPages,
			MaxBatchSize:      cfg.Ingest.MaxBatchSize,
			MaxRejectFraction: cfg.Quality.MaxRejectFraction,
			FetchRetries:      uint64(cfg.HTTP.RetryMax),
			BackoffInitial:    cfg.HTTP.BackoffInitial,
			BackoffMax:        cfg.HTTP.BackoffMax,
		},
		log,
	)

	return coordinator.Run(ctx), nil
}

// parquetLoader adapts the parquet writer to the coordinator's loader
// interface, dropping the partition detail the coordinator has no use
// for.
type parquetLoader struct {
	writer *parquet.Writer
}

func (l parquetLoader) Write(ctx context.Context, records []record.Validated) (int, error) {
	result, err := l.writer.Write(ctx, records)
	if err != nil {
		return 0, err
	}

	return result.Written, nil
}

func selectSources(catalog []config.Source, names []string) ([]config.Source, error) {
	if len(names) == 0 {
		return catalog, nil
	}

	byName := make(map[string]config.Source, len(catalog))
	for _, src := range catalog {
		byName[src.Name] = src
	}

	for _, name := range names {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
		}
	}

	// Catalog order, not flag order: runs stay deterministic.
	selected := make([]config.Source, 0, len(names))

	for _, src := range catalog {
		if slices.Contains(names, src.Name) {
			selected = append(selected, src)
		}
	}

	return selected, nil
}

func (r *RunCommand) renderSummary(summaries []ingest.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(r.writer)
	t.AppendHeader(table.Row{"Source", "Status", "Fetched", "Accepted", "Rejected", "Written", "Cursor", "Duration"})

	for _, s := range summaries {
		status := string(s.Stage)
		if s.Failed() {
			status = fmt.Sprintf("failed (%s)", s.Stage)
		}

		if s.Truncated {
			status += ", truncated"
		}

		t.AppendRow(table.Row{
			s.Source,
			status,
			humanize.Comma(int64(s.Fetched)),
			humanize.Comma(int64(s.Accepted)),
			humanize.Comma(int64(s.Rejected)),
			humanize.Comma(int64(s.Written)),
			s.Cursor,
			s.Duration.Round(time.Millisecond),
		})
	}

	t.Render()

	for _, s := range summaries {
		if s.Err != nil {
			fmt.Fprintf(r.writer, "%s: %v\n", s.Source, s.Err)
		}
	}
}
