// Package climatology builds long-term reference statistics and detects the
// monsoon onset for each agro-climatic region.
package climatology

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/raster"
	"github.com/paulmach/orb"
)

// Window is a calendar window that repeats every year.
type Window struct {
	StartDOY int // 1-based day of year
	Days     int
}

// WindowAt returns the window of the given length starting on t's day of year.
func WindowAt(t time.Time, days int) Window {
	return Window{StartDOY: t.YearDay(), Days: days}
}

// In returns the [start, end) dates of the window in year.
func (w Window) In(year int) (time.Time, time.Time) {
	start := DayOfYearDate(year, w.StartDOY)
	return start, start.AddDate(0, 0, w.Days)
}

// BaselineRequest describes one climatology statistic.
type BaselineRequest struct {
	Series    domain.RasterSeries
	Window    Window
	Aggregate raster.Reducer // how images inside the window combine
	Mask      *raster.Mask
	FromYear  int
	ToYear    int
}

// Baseline is the reference distribution of a windowed statistic. Values and
// Years are aligned.
type Baseline struct {
	Mean   float64
	StdDev float64
	Values []float64
	Years  []int
}

// Builder computes baselines by issuing one reduction per reference year.
type Builder struct {
	source raster.Source
}

// NewBuilder creates a Builder reading from source.
func NewBuilder(source raster.Source) *Builder {
	return &Builder{source: source}
}

// ReferenceYears clamps [from, currentYear-1] to the series' availability.
func ReferenceYears(series domain.RasterSeries, from, currentYear int) (int, int) {
	return max(from, series.AvailableFrom), currentYear - 1
}

// Build returns the mean and standard deviation over reference years. Years
// without data are excluded; no usable year yields raster.ErrNoData.
func (b *Builder) Build(ctx context.Context, zone domain.Zone, req BaselineRequest) (Baseline, error) {
	return b.build(ctx, zone.UID, zone.Geometry, req, raster.Mean)
}

func (b *Builder) build(ctx context.Context, uid string, geom orb.Geometry, req BaselineRequest, spatial raster.Reducer) (Baseline, error) {
	from := max(req.FromYear, req.Series.AvailableFrom)
	var out Baseline
	for year := from; year <= req.ToYear; year++ {
		start, end := req.Window.In(year)
		v, err := b.source.Reduce(ctx, uid, geom, raster.Query{
			Dataset:  req.Series.Dataset,
			Band:     req.Series.Band,
			Start:    start,
			End:      end,
			Temporal: req.Aggregate,
			Spatial:  spatial,
			Scale:    req.Series.Scale,
			Mask:     req.Mask,
		})
		if errors.Is(err, raster.ErrNoData) {
			continue
		}
		if err != nil {
			return Baseline{}, fmt.Errorf("reduce %s baseline for %d: %w", req.Series.Dataset, year, err)
		}
		out.Values = append(out.Values, v)
		out.Years = append(out.Years, year)
	}
	if len(out.Values) == 0 {
		return Baseline{}, raster.ErrNoData
	}
	out.Mean, out.StdDev = meanStd(out.Values)
	return out, nil
}

// Value returns the statistic for year, if it had data.
func (b Baseline) Value(year int) (float64, bool) {
	for i, y := range b.Years {
		if y == year {
			return b.Values[i], true
		}
	}
	return 0, false
}

// Range returns the smallest and largest values.
func (b Baseline) Range() (lo, hi float64) {
	if len(b.Values) == 0 {
		return 0, 0
	}
	lo, hi = b.Values[0], b.Values[0]
	for _, v := range b.Values[1:] {
		lo, hi = min(lo, v), max(hi, v)
	}
	return lo, hi
}
