package climatology

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/raster"
	"github.com/paulmach/orb"
	"golang.org/x/sync/singleflight"
)

const (
	onsetWeekDays  = 7
	onsetWeeks     = 52
	onsetFirstWeek = 18
)

type onsetKey struct {
	region domain.Region
	year   int
}

type onsetResult struct {
	date time.Time
	err  error
}

// OnsetDetector finds the monsoon onset per region and year. Results of past
// years, including NoOnsetFoundError, are cached for the detector's lifetime;
// the current season is recomputed on every call since its data is still
// arriving.
type OnsetDetector struct {
	builder  *Builder
	source   raster.Source
	series   domain.RasterSeries
	fromYear int

	group singleflight.Group
	mu    sync.Mutex
	cache map[onsetKey]onsetResult
}

// NewOnsetDetector creates a detector over a daily precipitation series using
// reference years from fromYear.
func NewOnsetDetector(source raster.Source, precipitation domain.RasterSeries, fromYear int) *OnsetDetector {
	return &OnsetDetector{
		builder:  NewBuilder(source),
		source:   source,
		series:   precipitation,
		fromYear: fromYear,
		cache:    make(map[onsetKey]onsetResult),
	}
}

// Detect returns the onset date of region in year, or *domain.NoOnsetFoundError
// when no week from week 18 on reaches the region's climatological percentile.
func (d *OnsetDetector) Detect(ctx context.Context, year int, region domain.Region) (time.Time, error) {
	key := onsetKey{region: region, year: year}

	d.mu.Lock()
	if res, ok := d.cache[key]; ok {
		d.mu.Unlock()
		return res.date, res.err
	}
	d.mu.Unlock()

	v, err, _ := d.group.Do(string(region)+"/"+strconv.Itoa(year), func() (any, error) {
		date, err := d.detect(ctx, year, region)
		if year >= domain.CurrentYear() {
			return date, err
		}
		if err == nil || errors.As(err, new(*domain.NoOnsetFoundError)) {
			d.mu.Lock()
			d.cache[key] = onsetResult{date: date, err: err}
			d.mu.Unlock()
		}
		return date, err
	})
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}

func (d *OnsetDetector) detect(ctx context.Context, year int, region domain.Region) (time.Time, error) {
	geom, err := RegionGeometry(region)
	if err != nil {
		return time.Time{}, err
	}
	pct, err := OnsetPercentile(region)
	if err != nil {
		return time.Time{}, err
	}
	uid := "region:" + string(region)
	from, to := ReferenceYears(d.series, d.fromYear, year)

	climatology := make([]float64, 0, onsetWeeks)
	current := make([]float64, onsetWeeks)
	for w := range onsetWeeks {
		window := Window{StartDOY: w*onsetWeekDays + 1, Days: onsetWeekDays}

		base, err := d.builder.build(ctx, uid, geom, BaselineRequest{
			Series:    d.series,
			Window:    window,
			Aggregate: raster.Sum,
			FromYear:  from,
			ToYear:    to,
		}, raster.Sum)
		switch {
		case errors.Is(err, raster.ErrNoData):
		case err != nil:
			return time.Time{}, fmt.Errorf("onset climatology week %d: %w", w, err)
		default:
			climatology = append(climatology, base.Mean)
		}

		start, end := window.In(year)
		current[w], err = d.total(ctx, uid, geom, start, end)
		if err != nil {
			return time.Time{}, fmt.Errorf("onset %d week %d: %w", year, w, err)
		}
	}
	if len(climatology) == 0 {
		return time.Time{}, fmt.Errorf("onset climatology for %s: %w", region, raster.ErrNoData)
	}

	threshold := Percentile(climatology, pct)
	for w := onsetFirstWeek; w < onsetWeeks; w++ {
		if math.IsNaN(current[w]) || current[w] < threshold {
			continue
		}
		weekStart, _ := Window{StartDOY: w*onsetWeekDays + 1, Days: onsetWeekDays}.In(year)
		return d.onsetDay(ctx, uid, geom, weekStart)
	}
	return time.Time{}, &domain.NoOnsetFoundError{Region: region, Year: year}
}

// onsetDay returns the first day of the week whose following day has more
// rain, or the week start when rainfall never rises.
func (d *OnsetDetector) onsetDay(ctx context.Context, uid string, geom orb.Geometry, weekStart time.Time) (time.Time, error) {
	daily := make([]float64, onsetWeekDays)
	for i := range daily {
		day := weekStart.AddDate(0, 0, i)
		v, err := d.total(ctx, uid, geom, day, day.AddDate(0, 0, 1))
		if err != nil {
			return time.Time{}, fmt.Errorf("onset daily rainfall %s: %w", day.Format(time.DateOnly), err)
		}
		daily[i] = v
	}
	for i := 1; i < len(daily); i++ {
		if daily[i]-daily[i-1] > 0 {
			return weekStart.AddDate(0, 0, i-1), nil
		}
	}
	return weekStart, nil
}

// total sums rainfall over the window and geometry. Missing data is NaN.
func (d *OnsetDetector) total(ctx context.Context, uid string, geom orb.Geometry, start, end time.Time) (float64, error) {
	v, err := d.source.Reduce(ctx, uid, geom, raster.Query{
		Dataset:  d.series.Dataset,
		Band:     d.series.Band,
		Start:    start,
		End:      end,
		Temporal: raster.Sum,
		Spatial:  raster.Sum,
		Scale:    d.series.Scale,
	})
	if errors.Is(err, raster.ErrNoData) {
		return math.NaN(), nil
	}
	return v, err
}
