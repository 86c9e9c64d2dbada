package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"qrrename/internal/metrics"
	"qrrename/internal/rename"
)

// Pool manages a pool of workers
type Pool struct {
	size        int
	config      Config
	loader      Loader
	decoder     Decoder
	coordinator *rename.Coordinator
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// NewPool creates a new worker pool
func NewPool(
	size int,
	config Config,
	loader Loader,
	decoder Decoder,
	coordinator *rename.Coordinator,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Pool {
	return &Pool{
		size:        size,
		config:      config,
		loader:      loader,
		decoder:     decoder,
		coordinator: coordinator,
		metrics:     metricsCollector,
		logger:      logger,
	}
}

// Run processes tasks until the channel is closed and returns the summary.
// Once ctx is done, tasks still arriving are recorded as cancelled without
// being started. Directory batches left incomplete are committed before Run
// returns.
func (p *Pool) Run(ctx context.Context, tasks <-chan Task) *Summary {
	start := time.Now()
	results := make(chan Result, p.size*2)

	summary := &Summary{StartedAt: start}
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		for r := range results {
			summary.add(r)
			p.metrics.IncOutcome(r.Outcome.String())
			if p.config.OnResult != nil {
				p.config.OnResult(r)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, results, &wg)
	}
	wg.Wait()

	for _, op := range p.coordinator.Flush() {
		results <- operationResult(op)
	}
	close(results)
	<-aggDone

	summary.Interrupted = ctx.Err() != nil
	summary.Duration = time.Since(start)
	summary.sort()
	return summary
}

func (p *Pool) worker(ctx context.Context, id int, tasks <-chan Task, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	processor := &TaskProcessor{
		config:      p.config,
		loader:      p.loader,
		decoder:     p.decoder,
		coordinator: p.coordinator,
		metrics:     p.metrics,
		results:     results,
		logger:      logger,
	}

	for task := range tasks {
		if ctx.Err() != nil {
			processor.cancel(task)
			continue
		}
		processor.Process(ctx, task)
	}

	if ctx.Err() != nil {
		logger.Debug("Worker stopped - context cancelled")
	} else {
		logger.Debug("Worker finished - no more tasks")
	}
}
