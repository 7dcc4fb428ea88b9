package domain

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// DrySpellBufferWeeks is added to any non-zero dry-spell run to account for
// the buffer days before and after the observed run.
const DrySpellBufferWeeks = 3

// AnnualInput is everything the aggregator needs for one zone and season.
// Labels and Records are in season order and aligned by index.
type AnnualInput struct {
	Zone           Zone
	Year           int
	Onset          time.Time
	Records        []WeeklyIndicatorRecord
	Labels         []DroughtLabel
	PercentCropped *float64
	CroppedSqKm    *float64
}

// AnnualZoneRecord summarises one zone's season.
type AnnualZoneRecord struct {
	UID      string       `json:"uid"`
	Year     int          `json:"year"`
	Geometry orb.Geometry `json:"-"`
	AreaHa   float64      `json:"area_in_ha"`

	TotalWeeks        int                      `json:"total_weeks"`
	WeeksBySeverity   [SeverityLevels]int      `json:"weeks_by_severity"`
	Frequency         [SeverityLevels]int      `json:"frequency"`
	Intensity         [SeverityLevels]*float64 `json:"intensity"`
	MaxDrySpellLength int                      `json:"max_dryspell_length"`
	MonsoonOnset      string                   `json:"monsoon_onset"`
	PercentCropped    *float64                 `json:"percent_cropped"`
	CroppedSqKm       *float64                 `json:"cropped_sqkm"`
	Labels            []int                    `json:"labels"`
	RainfallDeviation []DatedValue             `json:"monthly_rainfall_deviation"`
}

// Aggregate rolls a season of weekly labels into annual statistics.
func Aggregate(in AnnualInput) AnnualZoneRecord {
	weekly := RollupWeekly(in.Labels)

	rec := AnnualZoneRecord{
		UID:            in.Zone.UID,
		Year:           in.Year,
		Geometry:       in.Zone.Geometry,
		AreaHa:         in.Zone.AreaHa,
		TotalWeeks:     len(weekly),
		PercentCropped: in.PercentCropped,
		CroppedSqKm:    in.CroppedSqKm,
		Labels:         weekly,
	}
	if !in.Onset.IsZero() {
		rec.MonsoonOnset = DateKey(in.Onset)
	}

	for _, l := range weekly {
		rec.WeeksBySeverity[l]++
	}
	for t := range SeverityLevels {
		freq, sum := 0, 0
		for _, l := range weekly {
			if l >= t {
				freq++
				sum += l
			}
		}
		rec.Frequency[t] = freq
		if freq > 0 {
			rec.Intensity[t] = Float(float64(sum) / float64(freq))
		}
	}

	flags := make([]bool, len(in.Records))
	rec.RainfallDeviation = make([]DatedValue, len(in.Records))
	for i, r := range in.Records {
		flags[i] = r.DrySpell != nil && *r.DrySpell
		rec.RainfallDeviation[i] = DatedValue{Date: r.WeekStart, Value: r.RainfallDeviation28}
	}
	rec.MaxDrySpellLength = MaxDrySpellLength(flags)

	return rec
}

// MaxDrySpellLength returns the longest run of consecutive dry weeks plus the
// buffer constant, or 0 when no week is dry.
func MaxDrySpellLength(flags []bool) int {
	longest, current := 0, 0
	for _, dry := range flags {
		if dry {
			current++
			longest = max(longest, current)
			continue
		}
		current = 0
	}
	if longest == 0 {
		return 0
	}
	return longest + DrySpellBufferWeeks
}

// CheckInvariants verifies the count and frequency relationships of the record.
func (r AnnualZoneRecord) CheckInvariants() error {
	sum := 0
	for _, n := range r.WeeksBySeverity {
		sum += n
	}
	if sum != r.TotalWeeks {
		return fmt.Errorf("zone %s %d: weeks by severity sum to %d, want %d", r.UID, r.Year, sum, r.TotalWeeks)
	}
	if r.Frequency[0] != r.TotalWeeks {
		return fmt.Errorf("zone %s %d: frequency at threshold 0 is %d, want %d", r.UID, r.Year, r.Frequency[0], r.TotalWeeks)
	}
	for t := 1; t < SeverityLevels; t++ {
		if r.Frequency[t] > r.Frequency[t-1] {
			return fmt.Errorf("zone %s %d: frequency not monotone at threshold %d", r.UID, r.Year, t)
		}
	}
	for t := range SeverityLevels {
		if (r.Frequency[t] == 0) != (r.Intensity[t] == nil) {
			return fmt.Errorf("zone %s %d: intensity presence mismatch at threshold %d", r.UID, r.Year, t)
		}
	}
	return nil
}
