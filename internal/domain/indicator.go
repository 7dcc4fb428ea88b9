package domain

import "time"

// WeeklyIndicatorRecord holds the indicators computed for one zone and week
// start. A nil field means the indicator was unavailable.
type WeeklyIndicatorRecord struct {
	UID                 string    `json:"uid"`
	WeekStart           time.Time `json:"week_start"`
	RainfallDeviation7  *float64  `json:"weekly_rainfall_deviation,omitempty"`
	RainfallDeviation28 *float64  `json:"monthly_rainfall_deviation,omitempty"`
	SPI                 *float64  `json:"spi,omitempty"`
	DrySpell            *bool     `json:"dryspell,omitempty"`
	VCI                 *float64  `json:"vci,omitempty"`
	MAI                 *float64  `json:"mai,omitempty"`
	PercentCropped      *float64  `json:"percent_cropped,omitempty"`
}

// RainfallClass buckets the 28-day rainfall deviation.
type RainfallClass string

const (
	RainfallNormal  RainfallClass = "normal"
	RainfallDeficit RainfallClass = "deficit"
	RainfallScanty  RainfallClass = "scanty"
)

// IndicatorClass grades a single agricultural indicator.
type IndicatorClass int

const (
	ClassNone     IndicatorClass = 1
	ClassModerate IndicatorClass = 2
	ClassSevere   IndicatorClass = 3
)

// Severity is the composite drought class.
type Severity int

const (
	SeverityNone     Severity = 0
	SeverityMild     Severity = 1
	SeverityModerate Severity = 2
	SeveritySevere   Severity = 3
)

// SeverityLevels is the number of composite severity classes.
const SeverityLevels = 4

// DroughtLabel is the classification of one WeeklyIndicatorRecord.
type DroughtLabel struct {
	UID            string         `json:"uid"`
	WeekStart      time.Time      `json:"week_start"`
	Rainfall       RainfallClass  `json:"rainfall_class"`
	Meteorological bool           `json:"meteorological_drought"`
	VCIClass       IndicatorClass `json:"vci_class"`
	MAIClass       IndicatorClass `json:"mai_class"`
	CroppedClass   IndicatorClass `json:"cropped_class"`
	Severity       Severity       `json:"severity"`
}
