package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrrename/internal/config"
	"qrrename/internal/decoder"
	"qrrename/internal/filters"
	"qrrename/internal/imageio"
	"qrrename/internal/journal"
	"qrrename/internal/metrics"
	"qrrename/internal/progress"
	"qrrename/internal/rename"
	"qrrename/internal/report"
	"qrrename/internal/storage"
	"qrrename/internal/worker"
)

// Exit codes
const (
	ExitOK        = 0
	ExitFailures  = 1
	ExitConfig    = 2
	ExitCancelled = 130
)

// Renamer represents one run of the QR renamer
type Renamer struct {
	cfg         *config.Config
	logger      *zap.Logger
	runID       string
	journal     journal.Store
	metrics     *metrics.Collector
	coordinator *rename.Coordinator
	walker      *DirectoryWalker
	workers     *worker.Pool
}

// New creates a new renamer instance. It fails with *config.ConfigError
// before any file is touched when the filter names are invalid.
func New(cfg *config.Config, logger *zap.Logger) (*Renamer, error) {
	return newRenamer(cfg, logger, decoder.NewQRReader(cfg.Decode.TryHarder))
}

func newRenamer(cfg *config.Config, logger *zap.Logger, capability decoder.Capability) (*Renamer, error) {
	chain, err := filters.Parse(cfg.Decode.Filters)
	if err != nil {
		return nil, &config.ConfigError{Field: "filters", Err: err}
	}

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	fsys := storage.NewLocal()

	var store journal.Store
	if cfg.Journal != "" && !cfg.Rename.DryRun {
		s, err := journal.NewSQLiteStore(cfg.Journal)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		store = s
	}

	metricsCollector := metrics.New()

	coordinator := rename.NewCoordinator(fsys, rename.Options{
		MaxSuffix: cfg.Rename.MaxSuffix,
		DryRun:    cfg.Rename.DryRun,
	}, logger)

	rotationDecoder := decoder.NewRotationDecoder(capability, decoder.Options{
		Angles:     cfg.Decode.Angles,
		Chain:      chain,
		EachFilter: cfg.Decode.FilterMode == config.FilterModeEach,
		Accept:     acceptPayload(cfg.Decode.RequirePrefix),
	})

	loader := imageio.NewLoader(fsys, imageio.Options{
		Monochrome: cfg.Decode.Monochrome,
		AutoOrient: cfg.Decode.AutoOrient,
	})

	r := &Renamer{
		cfg:         cfg,
		logger:      logger,
		runID:       runID,
		journal:     store,
		metrics:     metricsCollector,
		coordinator: coordinator,
	}

	r.walker = NewDirectoryWalker(WalkerOptions{
		Extensions:     cfg.Scan.Extensions,
		Exclude:        cfg.Scan.Exclude,
		FollowSymlinks: cfg.Scan.FollowSymlinks,
	}, coordinator, metricsCollector, logger)

	r.workers = worker.NewPool(cfg.Threads, worker.Config{
		TaskTimeout: time.Duration(cfg.TaskTimeout),
		OnResult:    r.record,
	}, loader, rotationDecoder, coordinator, metricsCollector, logger)

	return r, nil
}

// acceptPayload rejects payloads that cannot become a file name or lack the
// required prefix
func acceptPayload(prefix string) func(string) bool {
	return func(payload string) bool {
		if _, err := rename.Sanitize(payload); err != nil {
			return false
		}
		return strings.HasPrefix(strings.TrimSpace(payload), prefix)
	}
}

// record runs on the pool's aggregating goroutine
func (r *Renamer) record(res worker.Result) {
	if r.journal == nil || res.Outcome != worker.Renamed {
		return
	}

	rec := &journal.RenameRecord{
		RunID:   r.runID,
		Source:  res.Path,
		Target:  res.Target,
		Payload: res.Payload,
		Status:  journal.StatusRenamed,
	}
	if err := r.journal.SaveRename(rec); err != nil {
		r.logger.Error("Failed to journal rename", zap.String("source", res.Path), zap.Error(err))
	}
}

// Run executes the scan, decode and rename pipeline
func (r *Renamer) Run(ctx context.Context) (*worker.Summary, error) {
	r.logger.Info("Starting run",
		zap.Strings("directories", r.cfg.Directories),
		zap.Ints("angles", r.cfg.Decode.Angles),
		zap.Strings("filters", r.cfg.Decode.Filters),
		zap.String("filter_mode", r.cfg.Decode.FilterMode),
		zap.Int("threads", r.cfg.Threads),
		zap.Bool("dry_run", r.cfg.Rename.DryRun),
	)

	if r.cfg.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		defer stopMetrics()
		go func() {
			if err := r.metrics.StartServer(metricsCtx, r.cfg.MetricsAddr); err != nil {
				r.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	if r.journal != nil {
		run := &journal.Run{ID: r.runID, StartedAt: time.Now(), Roots: r.cfg.Directories}
		if err := r.journal.BeginRun(run); err != nil {
			return nil, fmt.Errorf("failed to record run in journal: %w", err)
		}
	}

	var progressDisplay *progress.Display
	if r.cfg.ShowProgress && progress.IsTerminalSupported() {
		progressDisplay = progress.NewDisplay(r.metrics.GetProgressTracker(), 500*time.Millisecond, os.Stderr)
		progressDisplay.Start()
	}

	tasks := make(chan worker.Task, r.cfg.Threads*2)

	var rootErrs []*RootError
	walkDone := make(chan struct{})
	go func() {
		defer close(walkDone)
		rootErrs = r.walker.Walk(ctx, r.cfg.Directories, tasks)
		close(tasks)
		r.metrics.WalkDone()
	}()

	summary := r.workers.Run(ctx, tasks)
	<-walkDone

	if progressDisplay != nil {
		progressDisplay.Stop()
	}

	summary.RunID = r.runID
	summary.DryRun = r.cfg.Rename.DryRun
	for _, re := range rootErrs {
		summary.RootErrors = append(summary.RootErrors, worker.RootFailure{Root: re.Root, Error: re.Err.Error()})
	}

	if len(rootErrs) == len(r.cfg.Directories) {
		return summary, &config.ConfigError{Field: "directories", Err: errors.New("no usable directory")}
	}

	r.logger.Info("Run completed",
		zap.Int("renamed", len(summary.Renamed)),
		zap.Int("planned", len(summary.Planned)),
		zap.Int("unchanged", len(summary.Unchanged)),
		zap.Int("no_code", len(summary.Skipped)),
		zap.Int("failed", len(summary.Failed)),
		zap.Int("cancelled", len(summary.Cancelled)),
		zap.Duration("duration", summary.Duration),
	)

	if r.cfg.Report != "" {
		if err := report.New(summary, ExitCode(summary, nil)).Write(r.cfg.Report); err != nil {
			r.logger.Error("Failed to write report", zap.String("path", r.cfg.Report), zap.Error(err))
		}
	}

	return summary, nil
}

// RunID returns the identifier of this run
func (r *Renamer) RunID() string {
	return r.runID
}

// Close cleans up resources
func (r *Renamer) Close() error {
	if r.journal != nil {
		return r.journal.Close()
	}
	return nil
}

// ExitCode maps a run's result to the process exit status
func ExitCode(summary *worker.Summary, err error) int {
	var cfgErr *config.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return ExitConfig
	case err != nil:
		return ExitFailures
	case summary == nil:
		return ExitOK
	case summary.Interrupted:
		return ExitCancelled
	case summary.HasFailures():
		return ExitFailures
	default:
		return ExitOK
	}
}
