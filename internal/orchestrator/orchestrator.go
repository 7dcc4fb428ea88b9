// Package orchestrator exports zone tables to the asset store in chunks that
// respect the store's per-export feature limit, waits for every job and
// reassembles the chunks into one destination asset.
package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/asset"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxFeatures is the asset store's per-export feature limit.
const DefaultMaxFeatures = 15000

// mergedChunk is the chunk index reported for the destination export.
const mergedChunk = -1

// JobState is the lifecycle of a batch or one of its chunks.
type JobState string

const (
	StatePending   JobState = "PENDING"
	StateSubmitted JobState = "SUBMITTED"
	StatePolling   JobState = "POLLING"
	StateCompleted JobState = "COMPLETED"
	StateFailed    JobState = "FAILED"
)

// ComputeFunc produces the feature table for a contiguous slice of zones.
type ComputeFunc func(ctx context.Context, zones []domain.Zone) (*geojson.FeatureCollection, error)

// Batch is one destination asset computed from a zone list.
type Batch struct {
	Year        int
	Dest        string
	Description string
	Zones       []domain.Zone
	Compute     ComputeFunc
	// ChunkPath names the intermediate asset of chunk [start, end). Defaults
	// to Dest suffixed with the range.
	ChunkPath func(start, end int) string
}

// Chunk is a contiguous zone range [Start, End).
type Chunk struct {
	Index int
	Start int
	End   int
}

// ChunkResult is the outcome of one chunk.
type ChunkResult struct {
	Chunk
	Path    string
	State   JobState
	Skipped bool // chunk asset already existed
	Err     error
}

// Report summarises a batch run.
type Report struct {
	Dest         string
	State        JobState
	Exports      int
	Chunks       []ChunkResult
	FailedChunks []int
}

// Config bounds chunk size, concurrency and job polling.
type Config struct {
	MaxFeatures  int
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
}

// Orchestrator runs batches against an asset sink. Batches for the same
// destination are serialized within the process; callers running several
// processes against one store must serialize per destination themselves.
type Orchestrator struct {
	sink    asset.Sink
	cfg     Config
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	locks   keyedMutex
}

// New creates an Orchestrator. A nil clock uses the real clock.
func New(sink asset.Sink, cfg Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = DefaultMaxFeatures
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		sink:    sink,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Partition splits n zones into contiguous chunks of at most size zones.
func Partition(n, size int) []Chunk {
	if n <= 0 || size <= 0 {
		return nil
	}
	chunks := make([]Chunk, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		chunks = append(chunks, Chunk{Index: len(chunks), Start: start, End: min(start+size, n)})
	}
	return chunks
}

// Run computes and exports b. An existing destination completes immediately
// without exports. A batch that fits in one export is written straight to the
// destination; larger batches are exported chunk by chunk and merged only when
// every chunk completed.
func (o *Orchestrator) Run(ctx context.Context, b Batch) (*Report, error) {
	unlock := o.locks.lock(b.Dest)
	defer unlock()

	rep := &Report{Dest: b.Dest, State: StatePending}
	log := o.logger.With("dest", b.Dest, "year", b.Year)

	exists, err := o.sink.Exists(ctx, b.Dest)
	if err != nil {
		return rep, fmt.Errorf("check destination %s: %w", b.Dest, err)
	}
	if exists {
		o.metrics.ExportJobs.WithLabelValues("skipped").Inc()
		log.Info("destination exists, skipping")
		rep.State = StateCompleted
		return rep, nil
	}
	if len(b.Zones) == 0 {
		rep.State = StateFailed
		return rep, fmt.Errorf("batch %s has no zones", b.Dest)
	}

	chunks := Partition(len(b.Zones), o.cfg.MaxFeatures)
	var exports atomic.Int64
	results := make([]ChunkResult, len(chunks))

	rep.State = StateSubmitted
	log.Info("batch submitted", "zones", len(b.Zones), "chunks", len(chunks))

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, c := range chunks {
		path := b.Dest
		if len(chunks) > 1 {
			path = chunkPath(b, c)
		}
		g.Go(func() error {
			results[i] = o.runChunk(ctx, b, c, path, &exports)
			return nil
		})
	}
	_ = g.Wait()
	rep.Chunks = results
	rep.Exports = int(exports.Load())
	if err := ctx.Err(); err != nil {
		rep.State = StateFailed
		return rep, err
	}

	var errs []error
	for _, r := range results {
		if r.State != StateCompleted {
			rep.FailedChunks = append(rep.FailedChunks, r.Index)
			errs = append(errs, r.Err)
		}
	}
	if len(rep.FailedChunks) > 0 {
		rep.State = StateFailed
		log.Error("chunks failed, merge skipped", "failed_chunks", rep.FailedChunks)
		return rep, errors.Join(append([]error{&domain.IncompleteMergeError{Year: b.Year, Chunks: rep.FailedChunks}}, errs...)...)
	}

	if len(chunks) > 1 {
		rep.State = StatePolling
		err := o.mergeChunks(ctx, b, results, &exports)
		rep.Exports = int(exports.Load())
		if err != nil {
			rep.State = StateFailed
			return rep, err
		}
	}

	if err := o.sink.MakePublic(ctx, b.Dest); err != nil {
		rep.State = StateFailed
		return rep, fmt.Errorf("make %s public: %w", b.Dest, err)
	}
	rep.State = StateCompleted
	log.Info("batch completed", "exports", rep.Exports)
	return rep, nil
}

func chunkPath(b Batch, c Chunk) string {
	if b.ChunkPath != nil {
		return b.ChunkPath(c.Start, c.End)
	}
	return fmt.Sprintf("%s_%d-%d", b.Dest, c.Start, c.End)
}

// runChunk computes, exports and waits for one chunk. Failures are recorded on
// the result and never cancel sibling chunks.
func (o *Orchestrator) runChunk(ctx context.Context, b Batch, c Chunk, path string, exports *atomic.Int64) ChunkResult {
	res := ChunkResult{Chunk: c, Path: path, State: StatePending}
	log := o.logger.With("dest", b.Dest, "chunk", c.Index, "path", path)

	fail := func(err error) ChunkResult {
		res.State = StateFailed
		res.Err = err
		log.Error("chunk failed", "error", err)
		return res
	}

	if path != b.Dest {
		exists, err := o.sink.Exists(ctx, path)
		if err != nil {
			return fail(fmt.Errorf("check chunk %d asset: %w", c.Index, err))
		}
		if exists {
			o.metrics.ExportJobs.WithLabelValues("skipped").Inc()
			log.Info("chunk asset exists, skipping")
			res.State = StateCompleted
			res.Skipped = true
			return res
		}
	}

	fc, err := b.Compute(ctx, b.Zones[c.Start:c.End])
	if err != nil {
		return fail(fmt.Errorf("compute chunk %d: %w", c.Index, err))
	}
	h, err := o.sink.Export(ctx, fc, fmt.Sprintf("%s chunk %d", b.Description, c.Index), path)
	if err != nil {
		return fail(fmt.Errorf("export chunk %d: %w", c.Index, err))
	}
	exports.Add(1)
	res.State = StateSubmitted
	o.metrics.ExportJobs.WithLabelValues("submitted").Inc()
	log.Debug("chunk submitted", "job", h, "features", len(fc.Features))

	res.State = StatePolling
	if err := o.await(ctx, h, c.Index, path, b.Year); err != nil {
		return fail(err)
	}
	res.State = StateCompleted
	return res
}

// await polls h at the configured interval until it resolves or the job
// timeout elapses.
func (o *Orchestrator) await(ctx context.Context, h asset.JobHandle, chunk int, path string, year int) error {
	start := o.clock.Now()
	deadline := start.Add(o.cfg.JobTimeout)
	for {
		st, err := o.sink.JobStatus(ctx, h)
		if err != nil {
			return fmt.Errorf("poll job %s: %w", h, err)
		}
		switch st.Status {
		case asset.StatusSucceeded:
			o.metrics.ExportJobs.WithLabelValues("completed").Inc()
			o.metrics.ExportJobWait.Observe(o.clock.Since(start).Seconds())
			return nil
		case asset.StatusFailed:
			o.metrics.ExportJobs.WithLabelValues("failed").Inc()
			return &domain.JobFailedError{Chunk: chunk, Path: path, Year: year, Reason: st.Message}
		}

		if o.cfg.JobTimeout > 0 && !o.clock.Now().Before(deadline) {
			o.metrics.ExportJobs.WithLabelValues("timeout").Inc()
			return &domain.JobTimeoutError{Chunk: chunk, Path: path, Year: year, Waited: o.clock.Since(start)}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.clock.After(o.cfg.PollInterval):
		}
	}
}

// mergeChunks reads every chunk back, concatenates the features ordered by
// uid and exports the result to the destination.
func (o *Orchestrator) mergeChunks(ctx context.Context, b Batch, results []ChunkResult, exports *atomic.Int64) error {
	merged := geojson.NewFeatureCollection()
	for _, r := range results {
		fc, err := o.sink.Read(ctx, r.Path)
		if err != nil {
			return fmt.Errorf("read chunk %d: %w", r.Index, err)
		}
		merged.Features = append(merged.Features, fc.Features...)
	}
	slices.SortStableFunc(merged.Features, func(a, b *geojson.Feature) int {
		return cmp.Compare(a.Properties.MustString(domain.PropUID, ""), b.Properties.MustString(domain.PropUID, ""))
	})

	h, err := o.sink.Export(ctx, merged, b.Description, b.Dest)
	if err != nil {
		return fmt.Errorf("export merged %s: %w", b.Dest, err)
	}
	exports.Add(1)
	o.metrics.ExportJobs.WithLabelValues("submitted").Inc()
	return o.await(ctx, h, mergedChunk, b.Dest, b.Year)
}
