// Package metrics exposes per-source ingestion counters for Prometheus.
//
// The collector owns its registry so repeated construction (tests, the
// CLI) never trips duplicate-registration panics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the ingestion counters.
type Collector struct {
	registry *prometheus.Registry

	RecordsFetched  *prometheus.CounterVec
	RecordsAccepted *prometheus.CounterVec
	RecordsRejected *prometheus.CounterVec
	RecordsWritten  *prometheus.CounterVec
	RunsTotal       *prometheus.CounterVec
}

// NewCollector creates and registers the ingestion counters.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tributary_records_fetched_total",
			Help: "Raw records fetched from a source, before filtering.",
		}, []string{"source"}),
		RecordsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tributary_records_accepted_total",
			Help: "Records that passed schema validation.",
		}, []string{"source"}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tributary_records_rejected_total",
			Help: "Records rejected by schema validation.",
		}, []string{"source"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tributary_records_written_total",
			Help: "Records durably written to the lake.",
		}, []string{"source"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tributary_runs_total",
			Help: "Source runs by terminal status.",
		}, []string{"source", "status"}),
	}

	registry.MustRegister(
		c.RecordsFetched,
		c.RecordsAccepted,
		c.RecordsRejected,
		c.RecordsWritten,
		c.RunsTotal,
	)

	return c
}

// ObserveFetched adds raw fetched records for a source. Safe on a nil
// collector so callers can run without metrics wired.
func (c *Collector) ObserveFetched(source string, n int) {
	if c == nil || n == 0 {
		return
	}

	c.RecordsFetched.WithLabelValues(source).Add(float64(n))
}

// ObserveAccepted adds validation-accepted records for a source.
func (c *Collector) ObserveAccepted(source string, n int) {
	if c == nil || n == 0 {
		return
	}

	c.RecordsAccepted.WithLabelValues(source).Add(float64(n))
}

// ObserveRejected adds validation-rejected records for a source.
func (c *Collector) ObserveRejected(source string, n int) {
	if c == nil || n == 0 {
		return
	}

	c.RecordsRejected.WithLabelValues(source).Add(float64(n))
}

// ObserveWritten adds durably written records for a source.
func (c *Collector) ObserveWritten(source string, n int) {
	if c == nil || n == 0 {
		return
	}

	c.RecordsWritten.WithLabelValues(source).Add(float64(n))
}

// ObserveRun counts one finished run by terminal status.
func (c *Collector) ObserveRun(source, status string) {
	if c == nil {
		return
	}

	c.RunsTotal.WithLabelValues(source, status).Inc()
}

// Handler serves the /metrics scrape endpoint for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until the server fails. Intended to be
// run in a goroutine; errors are logged, not returned, because the
// scrape endpoint must never take down an ingestion run.
func (c *Collector) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	var lc net.ListenConfig

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Warn("metrics server stopped", "error", serveErr)
		}
	}()

	return nil
}
