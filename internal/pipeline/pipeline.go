package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
)

// BatchExtractor reads up to batchSize run requests from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RunMessage, error)
}

// Executor runs one multi-year request.
type Executor interface {
	Run(ctx context.Context, req domain.RunRequest) (*RunResult, error)
}

// BatchLoader publishes merged zone records under a layer name.
type BatchLoader interface {
	LoadBatch(ctx context.Context, layer string, records []domain.LongitudinalZoneRecord) error
}

// Pipeline consumes run requests, executes them and publishes the merged
// records downstream.
type Pipeline struct {
	extractor BatchExtractor
	executor  Executor
	loader    BatchLoader
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, x Executor, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Pipeline{
		extractor: e,
		executor:  x,
		loader:    l,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil once the pipeline has completed a run request,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed any run requests yet")
	}
	return nil
}

// Run executes the consume-compute-publish loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one consume-compute-publish cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.RunRequestsConsumed.Add(float64(len(batch)))
	*backoff = 200 * time.Millisecond

	for _, msg := range batch {
		if !p.handle(ctx, msg, backoff, maxBackoff) {
			return false
		}
	}
	return true
}

// handle executes one request and publishes its records. A failed run is
// logged and committed; it is never retried automatically. A failed publish
// is retried with backoff before the batch moves on, so no later commit can
// pass an unpublished request. Returns false if the pipeline should stop.
func (p *Pipeline) handle(ctx context.Context, msg domain.RunMessage, backoff *time.Duration, maxBackoff time.Duration) bool {
	req := msg.Request
	res, err := p.executor.Run(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		reason := failureReason(err)
		p.metrics.RunFailures.WithLabelValues(reason).Inc()
		p.logger.Error("run failed, skipping request",
			"error", err,
			"reason", reason,
			"district", req.District,
			"block", req.Block,
			"offset", msg.Offset,
		)
		p.commitOffset(ctx, msg)
		return true
	}

	if res.Existing {
		p.logger.Info("merged asset already exists, republishing", "dest", res.Dest, "records", len(res.Records))
	}
	if len(res.Records) > 0 && !p.publish(ctx, res, backoff, maxBackoff) {
		return false
	}

	p.commitOffset(ctx, msg)
	p.ready.Store(true)
	return true
}

// publish loads the records of res, retrying with backoff until it succeeds.
// Returns false if the pipeline stopped before the records were published.
func (p *Pipeline) publish(ctx context.Context, res *RunResult, backoff *time.Duration, maxBackoff time.Duration) bool {
	for {
		err := p.loader.LoadBatch(ctx, res.Layer, res.Records)
		if err == nil {
			p.metrics.RecordsProduced.Add(float64(len(res.Records)))
			*backoff = 200 * time.Millisecond
			return true
		}
		p.logger.Error("load batch failed", "error", err, "layer", res.Layer, "batch_size", len(res.Records))
		if !p.backoffOrStop(ctx, backoff, maxBackoff) {
			return false
		}
	}
}

// failureReason maps a run error to its metric label.
func failureReason(err error) string {
	var (
		noOnset    *domain.NoOnsetFoundError
		failed     *domain.JobFailedError
		timeout    *domain.JobTimeoutError
		incomplete *domain.IncompleteMergeError
	)
	switch {
	case errors.As(err, &noOnset):
		return "no_onset"
	case errors.As(err, &timeout):
		return "job_timeout"
	case errors.As(err, &failed):
		return "job_failed"
	case errors.As(err, &incomplete):
		return "incomplete_merge"
	default:
		return "other"
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, msg domain.RunMessage) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
}
