// Package indicator computes the weekly drought indicators of a zone from
// zonal reductions served by the compute backend.
package indicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/climatology"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/observability"
	"github.com/couchcryptid/drought-severity-etl/internal/raster"
)

// Indicator names used in logs and metrics.
const (
	RainfallDeviation7  = "rainfall_deviation_7"
	RainfallDeviation28 = "rainfall_deviation_28"
	SPI                 = "spi"
	DrySpell            = "dryspell"
	VCI                 = "vci"
	MAI                 = "mai"
	PercentCropped      = "percent_cropped"
)

const (
	weekDays      = 7
	monthDays     = 28
	subWeeks      = monthDays / weekDays
	compositeDays = 8

	drySpellDeviationMax = -50.0
	sqmPerSqkm           = 1e6
)

// errDegenerate marks a baseline that cannot normalise a value: zero mean,
// zero spread or an empty range.
var errDegenerate = errors.New("degenerate baseline")

// Config selects datasets and reference windows.
type Config struct {
	Datasets            Datasets
	ReferenceStartYear  int // first year of precipitation climatology
	VegetationStartYear int // first year of NDVI/NDWI history for VCI
}

// Calculator computes WeeklyIndicatorRecords. Each indicator degrades to nil
// independently; only context cancellation aborts a computation.
type Calculator struct {
	source  raster.Source
	builder *climatology.Builder
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCalculator creates a Calculator reading from source.
func NewCalculator(source raster.Source, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Calculator {
	return &Calculator{
		source:  source,
		builder: climatology.NewBuilder(source),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Compute returns the indicators of zone for the week starting at weekStart.
// pctCropped is the zone's percent-area-cropped for the season.
func (c *Calculator) Compute(ctx context.Context, zone domain.Zone, weekStart time.Time, pctCropped *float64) (domain.WeeklyIndicatorRecord, error) {
	rec := domain.WeeklyIndicatorRecord{
		UID:            zone.UID,
		WeekStart:      weekStart,
		PercentCropped: pctCropped,
	}

	var err error
	sub := make([]*float64, subWeeks)
	for i := range sub {
		start := weekStart.AddDate(0, 0, i*weekDays)
		sub[i], err = c.try(ctx, zone, weekStart, RainfallDeviation7, func() (float64, error) {
			return c.rainfallDeviation(ctx, zone, start, weekDays)
		})
		if err != nil {
			return rec, err
		}
	}
	rec.RainfallDeviation7 = sub[0]
	rec.DrySpell = c.drySpell(zone, weekStart, sub)

	if rec.RainfallDeviation28, err = c.try(ctx, zone, weekStart, RainfallDeviation28, func() (float64, error) {
		return c.rainfallDeviation(ctx, zone, weekStart, monthDays)
	}); err != nil {
		return rec, err
	}
	if rec.SPI, err = c.try(ctx, zone, weekStart, SPI, func() (float64, error) {
		return c.spi(ctx, zone, weekStart)
	}); err != nil {
		return rec, err
	}
	if rec.VCI, err = c.try(ctx, zone, weekStart, VCI, func() (float64, error) {
		return c.vci(ctx, zone, weekStart)
	}); err != nil {
		return rec, err
	}
	if rec.MAI, err = c.try(ctx, zone, weekStart, MAI, func() (float64, error) {
		return c.mai(ctx, zone, weekStart)
	}); err != nil {
		return rec, err
	}

	return rec, nil
}

// try runs one indicator computation. Failures are logged, counted and
// returned as a nil value; only a cancelled context is returned as an error.
func (c *Calculator) try(ctx context.Context, zone domain.Zone, weekStart time.Time, name string, compute func() (float64, error)) (*float64, error) {
	v, err := compute()
	if err == nil {
		return &v, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	c.unavailable(zone, weekStart, name, err)
	return nil, nil
}

func (c *Calculator) unavailable(zone domain.Zone, weekStart time.Time, name string, cause error) {
	c.metrics.IndicatorUnavailable.WithLabelValues(name).Inc()

	level := slog.LevelDebug
	if !errors.Is(cause, raster.ErrNoData) && !errors.Is(cause, errDegenerate) {
		level = slog.LevelWarn
	}
	c.logger.Log(context.Background(), level, "indicator unavailable",
		"indicator", name,
		"uid", zone.UID,
		"week_start", domain.DateKey(weekStart),
		"error", fmt.Errorf("%w: %w", domain.ErrMissingIndicator, cause),
	)
}

// drySpell flags the week when all four 7-day sub-periods of its 28-day window
// fall at or below -50% deviation. Any missing sub-period makes the flag
// unavailable.
func (c *Calculator) drySpell(zone domain.Zone, weekStart time.Time, sub []*float64) *bool {
	dry := true
	for _, dev := range sub {
		if dev == nil {
			c.unavailable(zone, weekStart, DrySpell, raster.ErrNoData)
			return nil
		}
		dry = dry && *dev <= drySpellDeviationMax
	}
	return domain.Bool(dry)
}

func (c *Calculator) reduce(ctx context.Context, zone domain.Zone, series domain.RasterSeries, start, end time.Time, temporal, spatial raster.Reducer, mask *raster.Mask) (float64, error) {
	return c.source.Reduce(ctx, zone.UID, zone.Geometry, raster.Query{
		Dataset:  series.Dataset,
		Band:     series.Band,
		Start:    start,
		End:      end,
		Temporal: temporal,
		Spatial:  spatial,
		Scale:    series.Scale,
		Mask:     mask,
	})
}

// rainfallDeviation is the percent departure of the window's rainfall total
// from its climatological mean.
func (c *Calculator) rainfallDeviation(ctx context.Context, zone domain.Zone, start time.Time, days int) (float64, error) {
	precip := c.cfg.Datasets.Precipitation
	current, err := c.reduce(ctx, zone, precip, start, start.AddDate(0, 0, days), raster.Sum, raster.Mean, nil)
	if err != nil {
		return 0, err
	}
	base, err := c.builder.Build(ctx, zone, climatology.BaselineRequest{
		Series:    precip,
		Window:    climatology.WindowAt(start, days),
		Aggregate: raster.Sum,
		FromYear:  c.cfg.ReferenceStartYear,
		ToYear:    start.Year() - 1,
	})
	if err != nil {
		return 0, err
	}
	if base.Mean == 0 {
		return 0, errDegenerate
	}
	return (current - base.Mean) / base.Mean * 100, nil
}

// spi is the standard anomaly of the 28-day mean daily rainfall.
func (c *Calculator) spi(ctx context.Context, zone domain.Zone, weekStart time.Time) (float64, error) {
	precip := c.cfg.Datasets.Precipitation
	current, err := c.reduce(ctx, zone, precip, weekStart, weekStart.AddDate(0, 0, monthDays), raster.Mean, raster.Mean, nil)
	if err != nil {
		return 0, err
	}
	base, err := c.builder.Build(ctx, zone, climatology.BaselineRequest{
		Series:    precip,
		Window:    climatology.WindowAt(weekStart, monthDays),
		Aggregate: raster.Mean,
		FromYear:  c.cfg.ReferenceStartYear,
		ToYear:    weekStart.Year() - 1,
	})
	if err != nil {
		return 0, err
	}
	if base.StdDev == 0 {
		return 0, errDegenerate
	}
	return (current - base.Mean) / base.StdDev, nil
}

// cropMask restricts reductions to pixels cropped in the season's year.
func (c *Calculator) cropMask(year int) *raster.Mask {
	lulc := c.cfg.Datasets.LULC
	return &raster.Mask{Dataset: lulc.Dataset, Band: lulc.Band, Years: []int{year}, Classes: c.cfg.Datasets.CropClasses}
}

// vci is the lower of the NDVI and NDWI condition indices over the 28-day
// window. When one index is unavailable the other is used alone.
func (c *Calculator) vci(ctx context.Context, zone domain.Zone, weekStart time.Time) (float64, error) {
	ndvi, errNDVI := c.conditionIndex(ctx, zone, c.cfg.Datasets.NDVI, weekStart)
	ndwi, errNDWI := c.conditionIndex(ctx, zone, c.cfg.Datasets.NDWI, weekStart)
	switch {
	case errNDVI == nil && errNDWI == nil:
		return min(ndvi, ndwi), nil
	case errNDVI == nil:
		return ndvi, nil
	case errNDWI == nil:
		return ndwi, nil
	default:
		return 0, errors.Join(errNDVI, errNDWI)
	}
}

// conditionIndex places the season's masked window mean within the range of
// that window's means over every year of history, current year included.
func (c *Calculator) conditionIndex(ctx context.Context, zone domain.Zone, series domain.RasterSeries, weekStart time.Time) (float64, error) {
	year := weekStart.Year()
	base, err := c.builder.Build(ctx, zone, climatology.BaselineRequest{
		Series:    series,
		Window:    climatology.WindowAt(weekStart, monthDays),
		Aggregate: raster.Mean,
		Mask:      c.cropMask(year),
		FromYear:  c.cfg.VegetationStartYear,
		ToYear:    year,
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", series.Band, err)
	}
	current, ok := base.Value(year)
	if !ok {
		return 0, fmt.Errorf("%s %d: %w", series.Band, year, raster.ErrNoData)
	}
	lo, hi := base.Range()
	if hi == lo {
		return 0, fmt.Errorf("%s: %w", series.Band, errDegenerate)
	}
	return clamp((current-lo)/(hi-lo)*100, 0, 100), nil
}

// mai is the weighted ratio of actual to potential evapotranspiration over the
// 28-day window, each 8-day composite weighted by its overlap with the window.
func (c *Calculator) mai(ctx context.Context, zone domain.Zone, weekStart time.Time) (float64, error) {
	ds := c.cfg.Datasets
	end := weekStart.AddDate(0, 0, monthDays)
	dates, err := c.source.Dates(ctx, ds.ET.Dataset, weekStart, end.AddDate(0, 0, weekDays))
	if err != nil {
		return 0, fmt.Errorf("list %s composites: %w", ds.ET.Dataset, err)
	}

	mask := c.cropMask(weekStart.Year())
	var et, pet float64
	used := 0
	for _, d := range dates {
		w := CompositeWeight(d, weekStart, end)
		if w == 0 {
			continue
		}
		next := d.AddDate(0, 0, 1)
		e, err := c.reduce(ctx, zone, ds.ET, d, next, raster.Sum, raster.Sum, mask)
		if errors.Is(err, raster.ErrNoData) {
			continue
		}
		if err != nil {
			return 0, err
		}
		p, err := c.reduce(ctx, zone, ds.PET, d, next, raster.Sum, raster.Sum, mask)
		if errors.Is(err, raster.ErrNoData) {
			continue
		}
		if err != nil {
			return 0, err
		}
		et += w * e * ds.ETScaleFactor
		pet += w * p * ds.ETScaleFactor
		used++
	}
	if used == 0 {
		return 0, raster.ErrNoData
	}
	if pet == 0 {
		return 0, errDegenerate
	}
	return et / pet * 100, nil
}

// CompositeWeight is the share of the 8 days ending at composite date d that
// fall within [start, end], clamped to [0, 1].
func CompositeWeight(d, start, end time.Time) float64 {
	from := d.AddDate(0, 0, -compositeDays)
	if start.After(from) {
		from = start
	}
	to := d
	if end.Before(to) {
		to = end
	}
	overlap := math.Round(to.Sub(from).Hours()/24) + 1
	return clamp(overlap/compositeDays, 0, 1)
}

// PercentCropped returns the share of croppable pixels that are cropped in
// year and the cropped area in square kilometres. Either may be nil.
func (c *Calculator) PercentCropped(ctx context.Context, zone domain.Zone, year int) (pct, sqkm *float64, err error) {
	lulc := c.cfg.Datasets.LULC
	from := min(lulc.AvailableFrom, year)

	cropped, err := c.try(ctx, zone, yearStart(year), PercentCropped, func() (float64, error) {
		return c.reduce(ctx, zone, lulc, yearStart(year), yearStart(year+1), raster.Max, raster.Count, c.cropMask(year))
	})
	if err != nil || cropped == nil {
		return nil, nil, err
	}
	sqkm = domain.Float(*cropped * lulc.Scale * lulc.Scale / sqmPerSqkm)

	years := make([]int, 0, year-from+1)
	for y := from; y <= year; y++ {
		years = append(years, y)
	}
	croppable, err := c.try(ctx, zone, yearStart(year), PercentCropped, func() (float64, error) {
		v, err := c.reduce(ctx, zone, lulc, yearStart(from), yearStart(year+1), raster.Max, raster.Count,
			&raster.Mask{Dataset: lulc.Dataset, Band: lulc.Band, Years: years, Classes: c.cfg.Datasets.CropClasses})
		if err == nil && v == 0 {
			return 0, errDegenerate
		}
		return v, err
	})
	if err != nil || croppable == nil {
		return nil, sqkm, err
	}
	return domain.Float(*cropped / *croppable * 100), sqkm, nil
}

func yearStart(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
