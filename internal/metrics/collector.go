package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrrename/internal/progress"
)

// Collector collects and exposes metrics
type Collector struct {
	registry        *prometheus.Registry
	filesTotal      *prometheus.CounterVec
	discoveredTotal prometheus.Counter
	attemptsTotal   *prometheus.CounterVec
	rootErrorsTotal prometheus.Counter
	inflightWorkers prometheus.Gauge
	duration        prometheus.Histogram
	progressTracker *progress.Tracker
}

// New creates a new metrics collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		filesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrrename_files_total",
				Help: "Total number of files processed, by outcome",
			},
			[]string{"outcome"},
		),
		discoveredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qrrename_files_discovered_total",
				Help: "Total number of image files found by the walker",
			},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrrename_decode_attempts_total",
				Help: "Total number of decode attempts, by status",
			},
			[]string{"status"},
		),
		rootErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qrrename_root_errors_total",
				Help: "Total number of roots that could not be scanned",
			},
		),
		inflightWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "qrrename_inflight_workers",
				Help: "Number of workers currently processing a file",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "qrrename_file_duration_seconds",
				Help:    "Time taken to load and decode a file",
				Buckets: prometheus.DefBuckets,
			},
		),
		progressTracker: progress.NewTracker(),
	}

	c.registry.MustRegister(
		c.filesTotal,
		c.discoveredTotal,
		c.attemptsTotal,
		c.rootErrorsTotal,
		c.inflightWorkers,
		c.duration,
	)

	return c
}

// IncOutcome counts a final file outcome and updates progress
func (c *Collector) IncOutcome(outcome string) {
	c.filesTotal.WithLabelValues(outcome).Inc()
	c.progressTracker.AddOutcome(outcome)
}

// AddDiscovered counts files found by the walker
func (c *Collector) AddDiscovered(n int) {
	c.discoveredTotal.Add(float64(n))
	c.progressTracker.AddDiscovered(n)
}

// WalkDone marks discovery as finished
func (c *Collector) WalkDone() {
	c.progressTracker.SetWalkDone()
}

// IncAttempt counts one decode attempt
func (c *Collector) IncAttempt(status string) {
	c.attemptsTotal.WithLabelValues(status).Inc()
}

// IncRootError counts an unreadable root
func (c *Collector) IncRootError() {
	c.rootErrorsTotal.Inc()
}

// WorkerStarted marks a worker as busy
func (c *Collector) WorkerStarted() {
	c.inflightWorkers.Inc()
}

// WorkerDone marks a worker as idle
func (c *Collector) WorkerDone() {
	c.inflightWorkers.Dec()
}

// ObserveDuration observes per-file processing duration
func (c *Collector) ObserveDuration(duration time.Duration) {
	c.duration.Observe(duration.Seconds())
}

// Handler returns the HTTP handler exposing this collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until ctx is done
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// GetProgressTracker returns the progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}
