package localstore

import (
	"context"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/raster"
	"github.com/gocarina/gocsv"
	"github.com/paulmach/orb"
)

// ReductionRow is one zone-level image value. Masked rows hold the value
// over the zone's cropped pixels; for the land-use dataset a masked row holds
// the count of pixels cropped that year. An empty value marks an image with
// every pixel masked.
type ReductionRow struct {
	UID     string `csv:"uid"`
	Dataset string `csv:"dataset"`
	Band    string `csv:"band"`
	Date    string `csv:"date"`
	Masked  bool   `csv:"masked"`
	Value   string `csv:"value"`
}

type seriesKey struct {
	uid, dataset, band string
	masked             bool
}

type sample struct {
	date  time.Time
	value *float64
}

// Source implements raster.Source over a CSV of pre-reduced zone values.
// Values are already spatially reduced, so only the temporal reducer is
// applied.
type Source struct {
	series map[seriesKey][]sample
	dates  map[string][]time.Time
}

// LoadSource reads ReductionRows from a CSV file.
func LoadSource(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reductions: %w", err)
	}
	defer f.Close()

	var rows []ReductionRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("decode reductions %s: %w", path, err)
	}
	return newSource(rows)
}

func newSource(rows []ReductionRow) (*Source, error) {
	s := &Source{
		series: make(map[seriesKey][]sample),
		dates:  make(map[string][]time.Time),
	}
	for i, r := range rows {
		d, err := time.Parse(time.DateOnly, r.Date)
		if err != nil {
			return nil, fmt.Errorf("row %d: parse date %q: %w", i+1, r.Date, err)
		}
		smp := sample{date: d}
		if r.Value != "" {
			v, err := strconv.ParseFloat(r.Value, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: parse value %q: %w", i+1, r.Value, err)
			}
			smp.value = &v
		}
		key := seriesKey{uid: r.UID, dataset: r.Dataset, band: r.Band, masked: r.Masked}
		s.series[key] = append(s.series[key], smp)
		if !slices.ContainsFunc(s.dates[r.Dataset], d.Equal) {
			s.dates[r.Dataset] = append(s.dates[r.Dataset], d)
		}
	}
	for _, ds := range s.dates {
		slices.SortFunc(ds, func(a, b time.Time) int { return a.Compare(b) })
	}
	return s, nil
}

func (s *Source) Reduce(ctx context.Context, uid string, _ orb.Geometry, q raster.Query) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key := seriesKey{uid: uid, dataset: q.Dataset, band: q.Band, masked: q.Mask != nil}
	var values []float64
	for _, smp := range s.series[key] {
		if smp.value == nil || smp.date.Before(q.Start) || !smp.date.Before(q.End) {
			continue
		}
		values = append(values, *smp.value)
	}
	if len(values) == 0 {
		return 0, raster.ErrNoData
	}
	return reduceValues(q.Temporal, values)
}

func (s *Source) Dates(ctx context.Context, dataset string, start, end time.Time) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []time.Time
	for _, d := range s.dates[dataset] {
		if !d.Before(start) && d.Before(end) {
			out = append(out, d)
		}
	}
	return out, nil
}

func reduceValues(r raster.Reducer, values []float64) (float64, error) {
	switch r {
	case raster.Sum, raster.Mean:
		var sum float64
		for _, v := range values {
			sum += v
		}
		if r == raster.Mean {
			return sum / float64(len(values)), nil
		}
		return sum, nil
	case raster.Min:
		return slices.Min(values), nil
	case raster.Max:
		return slices.Max(values), nil
	case raster.Count:
		return float64(len(values)), nil
	default:
		return math.NaN(), fmt.Errorf("unsupported reducer %q", r)
	}
}
