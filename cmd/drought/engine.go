package main

import (
	"fmt"
	"log/slog"

	"github.com/couchcryptid/drought-severity-etl/internal/adapter/computeapi"
	"github.com/couchcryptid/drought-severity-etl/internal/adapter/localstore"
	"github.com/couchcryptid/drought-severity-etl/internal/asset"
	"github.com/couchcryptid/drought-severity-etl/internal/climatology"
	"github.com/couchcryptid/drought-severity-etl/internal/config"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/indicator"
	"github.com/couchcryptid/drought-severity-etl/internal/observability"
	"github.com/couchcryptid/drought-severity-etl/internal/orchestrator"
	"github.com/couchcryptid/drought-severity-etl/internal/pipeline"
	"github.com/couchcryptid/drought-severity-etl/internal/raster"
)

// backend bundles the three capabilities a run needs from one provider.
type backend struct {
	source raster.Source
	sink   asset.Sink
	zones  pipeline.ZoneLoader
}

// engine is the wired computation graph shared by serve and run.
type engine struct {
	runner *pipeline.Runner
	season *pipeline.Season
	zones  pipeline.ZoneLoader
}

// newBackend selects the compute API when configured and the local fixture
// files otherwise. zonesFile, when set, overrides the per-block zone layout.
func newBackend(cfg *config.Config, zonesFile string, logger *slog.Logger, metrics *observability.Metrics) (*backend, error) {
	if cfg.UsesComputeAPI() {
		client := computeapi.NewClient(cfg, logger, metrics)
		logger.Info("using compute API backend", "url", cfg.ComputeAPIURL, "timeout", cfg.ComputeTimeout)
		return &backend{source: client, sink: client, zones: client}, nil
	}

	src, err := localstore.LoadSource(cfg.ReductionsFile)
	if err != nil {
		return nil, fmt.Errorf("load reductions: %w", err)
	}
	logger.Info("using local file backend", "reductions", cfg.ReductionsFile, "zones", cfg.ZonesDir)
	return &backend{
		source: src,
		sink:   localstore.NewStore(".", logger),
		zones:  localstore.NewZoneLoader(cfg.ZonesDir, zonesFile),
	}, nil
}

func newEngine(cfg *config.Config, b *backend, policy domain.MergePolicy, logger *slog.Logger, metrics *observability.Metrics) (*engine, error) {
	datasets := indicator.DefaultDatasets()
	source := raster.NewCachedSource(b.source, cfg.ReduceCacheSize, metrics)

	seasonCfg := pipeline.SeasonConfig{Workers: cfg.Workers}
	if cfg.OnsetFallback != "" {
		md, err := climatology.ParseMonthDay(cfg.OnsetFallback)
		if err != nil {
			return nil, err
		}
		seasonCfg.OnsetFallback = &md
	}

	onset := climatology.NewOnsetDetector(source, datasets.Precipitation, cfg.ReferenceStartYear)
	calc := indicator.NewCalculator(source, indicator.Config{
		Datasets:            datasets,
		ReferenceStartYear:  cfg.ReferenceStartYear,
		VegetationStartYear: cfg.VegetationStartYear,
	}, logger, metrics)
	season := pipeline.NewSeason(onset, calc, seasonCfg, logger, metrics)

	orch := orchestrator.New(b.sink, orchestrator.Config{
		MaxFeatures:  cfg.ExportMaxFeatures,
		Concurrency:  cfg.Workers,
		PollInterval: cfg.PollInterval,
		JobTimeout:   cfg.JobTimeout,
	}, nil, logger, metrics)

	runner := pipeline.NewRunner(b.zones, season, orch, b.sink, pipeline.RunnerConfig{
		AssetRoot:   cfg.AssetRoot,
		AssetPrefix: cfg.AssetPrefix,
		MergePolicy: policy,
	}, logger, metrics)

	return &engine{runner: runner, season: season, zones: b.zones}, nil
}
