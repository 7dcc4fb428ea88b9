package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/asset"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/observability"
	"github.com/couchcryptid/drought-severity-etl/internal/orchestrator"
	"github.com/paulmach/orb/geojson"
)

// ZoneLoader lists the zones of a block.
type ZoneLoader interface {
	LoadZones(ctx context.Context, req domain.RunRequest) ([]domain.Zone, error)
}

// BatchRunner exports a zone table to one destination asset.
type BatchRunner interface {
	Run(ctx context.Context, b orchestrator.Batch) (*orchestrator.Report, error)
}

// SeasonRunner computes one year's annual records for a set of zones.
type SeasonRunner interface {
	Run(ctx context.Context, year int, zones []domain.Zone) ([]domain.AnnualZoneRecord, error)
}

// RunnerConfig names assets and selects the merge policy.
type RunnerConfig struct {
	AssetRoot   string
	AssetPrefix string
	MergePolicy domain.MergePolicy
}

// RunResult is the outcome of a multi-year run.
type RunResult struct {
	Request domain.RunRequest
	Dest    string
	Layer   string
	// Existing is set when the merged asset was already present and nothing
	// was recomputed; Records then holds the layer as read back.
	Existing bool
	Exports  int
	Records  []domain.LongitudinalZoneRecord
}

// Runner executes the full multi-year flow for one block: one yearly asset
// per season, then the merged longitudinal asset.
type Runner struct {
	zones   ZoneLoader
	season  SeasonRunner
	batches BatchRunner
	sink    asset.Sink
	cfg     RunnerConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRunner creates a Runner.
func NewRunner(zones ZoneLoader, season SeasonRunner, batches BatchRunner, sink asset.Sink, cfg RunnerConfig, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		zones:   zones,
		season:  season,
		batches: batches,
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// AssetFolder is the folder holding a block's assets.
func (r *Runner) AssetFolder(req domain.RunRequest) string {
	root := strings.TrimSuffix(r.cfg.AssetRoot, "/")
	if root == "" {
		return domain.AssetDir(req.State, req.District, req.Block)
	}
	return root + "/" + domain.AssetDir(req.State, req.District, req.Block)
}

// Run computes or reuses every yearly asset of req and merges them.
func (r *Runner) Run(ctx context.Context, req domain.RunRequest) (*RunResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	suffix := req.Suffix()
	dir := r.AssetFolder(req)
	res := &RunResult{
		Request: req,
		Dest:    dir + domain.LongitudinalAssetName(r.cfg.AssetPrefix, suffix, req.StartYear, req.EndYear),
		Layer:   domain.LayerName(suffix),
	}
	log := r.logger.With("district", req.District, "block", req.Block,
		"start_year", req.StartYear, "end_year", req.EndYear)

	exists, err := r.sink.Exists(ctx, res.Dest)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", res.Dest, err)
	}
	if exists {
		log.Info("merged asset exists, reading it back", "dest", res.Dest)
		res.Existing = true
		fc, err := r.sink.Read(ctx, res.Dest)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", res.Dest, err)
		}
		res.Records, err = domain.LongitudinalFromFeatureCollection(fc, req.StartYear, req.EndYear)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", res.Dest, err)
		}
		return res, nil
	}

	zones, err := r.zones.LoadZones(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("load zones: %w", err)
	}
	log.Info("run started", "zones", len(zones))

	perYear := make(map[int][]domain.AnnualZoneRecord, req.EndYear-req.StartYear+1)
	for year := req.StartYear; year <= req.EndYear; year++ {
		records, exports, err := r.year(ctx, dir, suffix, year, zones)
		res.Exports += exports
		if err != nil {
			return res, err
		}
		perYear[year] = records
	}

	merged, err := domain.MergeAll(perYear, req.StartYear, req.EndYear, r.cfg.MergePolicy, log)
	if err != nil {
		return res, err
	}

	byUID := make(map[string]domain.LongitudinalZoneRecord, len(merged))
	for _, m := range merged {
		byUID[m.UID] = m
	}
	rep, err := r.batches.Run(ctx, orchestrator.Batch{
		Year:        req.EndYear,
		Dest:        res.Dest,
		Description: fmt.Sprintf("drought %s %d-%d", suffix, req.StartYear, req.EndYear),
		Zones:       zones,
		Compute: func(_ context.Context, zs []domain.Zone) (*geojson.FeatureCollection, error) {
			recs := make([]domain.LongitudinalZoneRecord, 0, len(zs))
			for _, z := range zs {
				if m, ok := byUID[z.UID]; ok {
					recs = append(recs, m)
				}
			}
			return domain.LongitudinalFeatureCollection(recs), nil
		},
		ChunkPath: func(s, e int) string {
			return dir + domain.ChunkAssetName(suffix, s, e, req.EndYear) + "_merged"
		},
	})
	if rep != nil {
		res.Exports += rep.Exports
	}
	if err != nil {
		return res, fmt.Errorf("export %s: %w", res.Dest, err)
	}

	res.Records = merged
	r.metrics.RunDuration.Observe(time.Since(start).Seconds())
	log.Info("run completed", "dest", res.Dest, "records", len(merged), "exports", res.Exports)
	return res, nil
}

// year makes sure the yearly asset exists and reads its records back.
func (r *Runner) year(ctx context.Context, dir, suffix string, year int, zones []domain.Zone) ([]domain.AnnualZoneRecord, int, error) {
	dest := dir + domain.YearlyAssetName(r.cfg.AssetPrefix, suffix, year)
	rep, err := r.batches.Run(ctx, orchestrator.Batch{
		Year:        year,
		Dest:        dest,
		Description: fmt.Sprintf("drought %s %d", suffix, year),
		Zones:       zones,
		Compute: func(ctx context.Context, zs []domain.Zone) (*geojson.FeatureCollection, error) {
			records, err := r.season.Run(ctx, year, zs)
			if err != nil {
				return nil, err
			}
			return domain.AnnualFeatureCollection(records), nil
		},
		ChunkPath: func(s, e int) string {
			return dir + domain.ChunkAssetName(suffix, s, e, year)
		},
	})
	exports := 0
	if rep != nil {
		exports = rep.Exports
	}
	if err != nil {
		return nil, exports, fmt.Errorf("year %d: %w", year, err)
	}

	fc, err := r.sink.Read(ctx, dest)
	if errors.Is(err, asset.ErrNotFound) {
		return nil, exports, &domain.IncompleteMergeError{Year: year}
	}
	if err != nil {
		return nil, exports, fmt.Errorf("read %s: %w", dest, err)
	}
	records, err := domain.AnnualFromFeatureCollection(fc, year)
	if err != nil {
		return nil, exports, fmt.Errorf("decode %s: %w", dest, err)
	}
	return records, exports, nil
}
