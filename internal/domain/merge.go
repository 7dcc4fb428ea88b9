package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// MergePolicy decides what happens when a zone is missing from a year.
type MergePolicy int

const (
	// RefuseIncomplete fails the merge with an IncompleteMergeError.
	RefuseIncomplete MergePolicy = iota
	// SkipIncomplete drops the zone and logs a warning.
	SkipIncomplete
)

// shortRainfallPrefix replaces "monthly_rainfall_deviation_20" so that
// "monthly_rainfall_deviation_2023-7-5" becomes "rd23-7-5".
const (
	longRainfallCentury = rainfallDeviationPrefix + "20"
	shortRainfallPrefix = "rd"
)

// LongitudinalZoneRecord is one zone's merged record over a year range.
type LongitudinalZoneRecord struct {
	UID         string
	Geometry    orb.Geometry
	AreaHa      float64
	StartYear   int
	EndYear     int
	AvgDrySpell float64
	Fields      map[string]any // short-coded per-year fields
}

// shortCode pairs a long yearly field builder with its short code prefix.
type shortCode struct {
	long  func(year int) string
	short string
}

// shortCodes is the published renaming map; downstream dashboards resolve
// these names exactly.
var shortCodes = []shortCode{
	{labelsField, "drlb_"},
	{drySpellField, "drysp_"},
	{func(y int) string { return freqField(y, 0) }, "frth0_"},
	{func(y int) string { return freqField(y, 1) }, "frth1_"},
	{func(y int) string { return freqField(y, 2) }, "frth2_"},
	{func(y int) string { return freqField(y, 3) }, "frth3_"},
	{func(y int) string { return intensityField(y, 0) }, "inth0_"},
	{func(y int) string { return intensityField(y, 1) }, "inth1_"},
	{func(y int) string { return intensityField(y, 2) }, "inth2_"},
	{func(y int) string { return intensityField(y, 3) }, "inth3_"},
	{func(y int) string { return weeksField(y, 0) }, "w_no_"},
	{func(y int) string { return weeksField(y, 1) }, "w_mld_"},
	{func(y int) string { return weeksField(y, 2) }, "w_mod_"},
	{func(y int) string { return weeksField(y, 3) }, "w_sev_"},
	{croppedSqKmField, "kh_cr_"},
	{onsetField, "m_ons_"},
	{pctCroppedField, "pcr_k_"},
	{totalWeeksField, "t_wks_"},
}

// ShortFieldName maps a long yearly field name to its published short code.
func ShortFieldName(long string, year int) (string, bool) {
	for _, c := range shortCodes {
		if c.long(year) == long {
			return fmt.Sprintf("%s%d", c.short, year), true
		}
	}
	if rest, ok := strings.CutPrefix(long, longRainfallCentury); ok {
		return shortRainfallPrefix + rest, true
	}
	return "", false
}

// ShortFields renames a yearly record's fields to their short codes. Long
// fields without a short code are dropped.
func ShortFields(r AnnualZoneRecord) map[string]any {
	out := make(map[string]any)
	for long, v := range r.Fields() {
		if short, ok := ShortFieldName(long, r.Year); ok {
			out[short] = v
		}
	}
	return out
}

// MergeZone folds one zone's yearly records into a longitudinal record.
// base supplies geometry, UID and area; byYear must contain every year in
// [startYear, endYear].
func MergeZone(base AnnualZoneRecord, byYear map[int]AnnualZoneRecord, startYear, endYear int) (LongitudinalZoneRecord, error) {
	if endYear < startYear {
		return LongitudinalZoneRecord{}, fmt.Errorf("merge zone %s: end year %d before start year %d", base.UID, endYear, startYear)
	}

	out := LongitudinalZoneRecord{
		UID:       base.UID,
		Geometry:  base.Geometry,
		AreaHa:    base.AreaHa,
		StartYear: startYear,
		EndYear:   endYear,
		Fields:    make(map[string]any),
	}

	total := 0
	for year := startYear; year <= endYear; year++ {
		rec, ok := byYear[year]
		if !ok {
			return LongitudinalZoneRecord{}, &IncompleteMergeError{UID: base.UID, Year: year}
		}
		for k, v := range ShortFields(rec) {
			out.Fields[k] = v
		}
		total += rec.MaxDrySpellLength
	}
	out.AvgDrySpell = float64(total) / float64(endYear-startYear+1)

	return out, nil
}

// MergeAll merges every zone seen in any year of the range. A zone missing
// from some year is handled per policy. Results are sorted by UID.
func MergeAll(perYear map[int][]AnnualZoneRecord, startYear, endYear int, policy MergePolicy, logger *slog.Logger) ([]LongitudinalZoneRecord, error) {
	base, ok := perYear[startYear]
	if !ok {
		return nil, &IncompleteMergeError{Year: startYear}
	}

	index := make(map[string]map[int]AnnualZoneRecord, len(base))
	for year := startYear; year <= endYear; year++ {
		for _, rec := range perYear[year] {
			if index[rec.UID] == nil {
				index[rec.UID] = make(map[int]AnnualZoneRecord)
			}
			index[rec.UID][year] = rec
		}
	}
	uids := make([]string, 0, len(index))
	for uid := range index {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	out := make([]LongitudinalZoneRecord, 0, len(uids))
	for _, uid := range uids {
		byYear := index[uid]
		b, ok := byYear[startYear]
		if !ok {
			b = AnnualZoneRecord{UID: uid}
		}
		merged, err := MergeZone(b, byYear, startYear, endYear)
		var incomplete *IncompleteMergeError
		if errors.As(err, &incomplete) && policy == SkipIncomplete {
			logger.Warn("zone missing from year, skipping", "uid", incomplete.UID, "year", incomplete.Year)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, merged)
	}
	return out, nil
}

// Properties returns the flat attribute map published for the zone.
func (r LongitudinalZoneRecord) Properties() map[string]any {
	props := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		props[k] = v
	}
	props[PropUID] = r.UID
	props[PropAreaHa] = r.AreaHa
	props[PropAvgDrySpell] = r.AvgDrySpell
	return props
}

// Feature encodes the merged record as a GeoJSON feature.
func (r LongitudinalZoneRecord) Feature() *geojson.Feature {
	feat := geojson.NewFeature(r.Geometry)
	for k, v := range r.Properties() {
		feat.Properties[k] = v
	}
	return feat
}

// MarshalJSON publishes the flat attribute map.
func (r LongitudinalZoneRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Properties())
}

// LongitudinalFeatureCollection encodes merged records in UID order.
func LongitudinalFeatureCollection(records []LongitudinalZoneRecord) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range records {
		fc.Append(r.Feature())
	}
	return fc
}

// LongitudinalFromFeatureCollection decodes a published merged layer back
// into records, in UID order.
func LongitudinalFromFeatureCollection(fc *geojson.FeatureCollection, startYear, endYear int) ([]LongitudinalZoneRecord, error) {
	out := make([]LongitudinalZoneRecord, 0, len(fc.Features))
	for i, f := range fc.Features {
		uid, ok := f.Properties[PropUID].(string)
		if !ok || uid == "" {
			return nil, fmt.Errorf("feature %d: missing uid", i)
		}
		rec := LongitudinalZoneRecord{
			UID:       uid,
			Geometry:  f.Geometry,
			StartYear: startYear,
			EndYear:   endYear,
			Fields:    make(map[string]any, len(f.Properties)),
		}
		rec.AreaHa, _ = numberProp(f.Properties, PropAreaHa)
		rec.AvgDrySpell, _ = numberProp(f.Properties, PropAvgDrySpell)
		for k, v := range f.Properties {
			switch k {
			case PropUID, PropAreaHa, PropAvgDrySpell:
			default:
				rec.Fields[k] = v
			}
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// LastMergedYear returns the latest year present in a merged layer's
// "drlb_<year>" fields, or 0 when none are present.
func LastMergedYear(props map[string]any) int {
	last := 0
	for k := range props {
		rest, ok := strings.CutPrefix(k, "drlb_")
		if !ok {
			continue
		}
		var y int
		if _, err := fmt.Sscanf(rest, "%d", &y); err == nil && y > last {
			last = y
		}
	}
	return last
}
