package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// DateKeyLayout formats dates embedded in field names without zero padding.
const DateKeyLayout = "2006-1-2"

// Region is one of the agro-climatic macro-regions used for onset detection.
type Region string

const (
	RegionNorthern Region = "northern"
	RegionWestern  Region = "western"
	RegionCentral  Region = "central"
	RegionEastern  Region = "eastern"
	RegionSouthern Region = "southern"
)

// Zone is the unit of analysis: a polygon keyed by a stable UID.
type Zone struct {
	UID      string
	Geometry orb.Geometry
	AreaHa   float64
	Region   Region
}

// RasterSeries describes a named time-indexed dataset held by the compute backend.
type RasterSeries struct {
	Dataset       string
	Band          string
	Scale         float64 // native pixel size in meters
	AvailableFrom int     // first year with data
}

// DateKey renders t in the unpadded "YYYY-M-D" form used in field names.
func DateKey(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// DatedValue is a nullable measurement attached to a week start.
type DatedValue struct {
	Date  time.Time `json:"date"`
	Value *float64  `json:"value"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
