// Package raster defines the seam to the external compute backend that owns
// the gridded datasets. The engine never touches pixels; it asks the backend
// to reduce a named dataset over a date range and a zone geometry and works
// with the scalar results.
package raster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// ErrNoData is returned when a dataset has no images, or only masked pixels,
// for the requested window and geometry.
var ErrNoData = errors.New("no data for window")

// Reducer names a reduction applied over time or space.
type Reducer string

const (
	Mean  Reducer = "mean"
	Sum   Reducer = "sum"
	Min   Reducer = "min"
	Max   Reducer = "max"
	Count Reducer = "count"
)

// Mask restricts a reduction to pixels whose class in Dataset is one of
// Classes in any of Years.
type Mask struct {
	Dataset string
	Band    string
	Years   []int
	Classes []int
}

// Key is a stable string form of the mask used in cache keys and fixtures.
func (m *Mask) Key() string {
	if m == nil {
		return ""
	}
	join := func(xs []int) string {
		s := make([]string, len(xs))
		for i, x := range xs {
			s[i] = strconv.Itoa(x)
		}
		return strings.Join(s, ",")
	}
	return fmt.Sprintf("%s:%s:%s:%s", m.Dataset, m.Band, join(m.Years), join(m.Classes))
}

// Query asks for a zonal statistic: images of Dataset dated in [Start, End)
// are combined with Temporal, then the composite is reduced over the geometry
// with Spatial at Scale meters.
type Query struct {
	Dataset  string
	Band     string
	Start    time.Time
	End      time.Time
	Temporal Reducer
	Spatial  Reducer
	Scale    float64
	Mask     *Mask
}

// Key identifies the query independently of the geometry.
func (q Query) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%g|%s",
		q.Dataset, q.Band,
		q.Start.Format(time.DateOnly), q.End.Format(time.DateOnly),
		q.Temporal, q.Spatial, q.Scale, q.Mask.Key())
}

// Source reduces named datasets over zone geometries.
type Source interface {
	// Reduce returns the zonal statistic for q, or ErrNoData.
	Reduce(ctx context.Context, uid string, geom orb.Geometry, q Query) (float64, error)
	// Dates lists the image dates of dataset within [start, end).
	Dates(ctx context.Context, dataset string, start, end time.Time) ([]time.Time, error)
}
