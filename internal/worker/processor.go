package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"qrrename/internal/decoder"
	"qrrename/internal/metrics"
	"qrrename/internal/rename"
)

// TaskProcessor runs load, decode and rename for one task at a time
type TaskProcessor struct {
	config      Config
	loader      Loader
	decoder     Decoder
	coordinator *rename.Coordinator
	metrics     *metrics.Collector
	results     chan<- Result
	logger      *zap.Logger
}

// Process processes a single task. The rename step is handed to the
// coordinator and is never interrupted by cancellation.
func (p *TaskProcessor) Process(ctx context.Context, task Task) {
	p.metrics.WorkerStarted()
	defer p.metrics.WorkerDone()

	startTime := time.Now()

	taskCtx := ctx
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	img, err := p.loader.Load(task.Path)
	if err != nil {
		p.logger.Warn("Failed to load image", zap.String("path", task.Path), zap.Error(err))
		p.finish(task, Result{Path: task.Path, Outcome: LoadFailed, Err: err})
		return
	}

	if ctx.Err() != nil {
		p.cancel(task)
		return
	}

	res, err := p.decoder.Decode(taskCtx, img)
	p.metrics.ObserveDuration(time.Since(startTime))
	p.countAttempts(res, err)

	if err != nil {
		if ctx.Err() != nil {
			p.cancel(task)
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			p.logger.Warn("Decode timed out", zap.String("path", task.Path), zap.Duration("timeout", p.config.TaskTimeout))
		} else {
			p.logger.Info("No QR code found", zap.String("path", task.Path), zap.Error(err))
		}
		p.finish(task, Result{Path: task.Path, Outcome: DecodeFailed, Err: err})
		return
	}

	p.logger.Debug("Decoded",
		zap.String("path", task.Path),
		zap.String("payload", res.Payload),
		zap.Int("angle", res.Angle),
		zap.Strings("filters", res.Filters),
		zap.Duration("duration", time.Since(startTime)),
	)

	ops := p.coordinator.Submit(task.Dir, rename.Intent{Source: task.Path, Payload: res.Payload})
	p.emit(ops)
}

// cancel records a task that will not be (further) processed
func (p *TaskProcessor) cancel(task Task) {
	p.finish(task, Result{Path: task.Path, Outcome: Cancelled})
}

// finish reports a task that ends without a rename intent
func (p *TaskProcessor) finish(task Task, r Result) {
	p.results <- r
	p.emit(p.coordinator.Forfeit(task.Dir))
}

func (p *TaskProcessor) emit(ops []rename.Operation) {
	for _, op := range ops {
		p.results <- operationResult(op)
	}
}

func (p *TaskProcessor) countAttempts(res *decoder.Result, err error) {
	var attempts []decoder.Attempt
	var decErr *decoder.DecodeError
	switch {
	case res != nil:
		attempts = res.Attempts
	case errors.As(err, &decErr):
		attempts = decErr.Attempts
	}
	for _, a := range attempts {
		p.metrics.IncAttempt(a.Status.String())
	}
}

func operationResult(op rename.Operation) Result {
	r := Result{Path: op.Source, Target: op.Target, Payload: op.Payload, Err: op.Err}
	switch op.Status {
	case rename.Renamed:
		r.Outcome = Renamed
	case rename.Planned:
		r.Outcome = Planned
	case rename.Unchanged:
		r.Outcome = Unchanged
	default:
		r.Outcome = RenameFailed
	}
	return r
}
