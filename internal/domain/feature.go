package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// Property names shared by yearly and merged layers.
const (
	PropUID         = "uid"
	PropAreaHa      = "area_in_ha"
	PropAvgDrySpell = "avg_dryspell"

	rainfallDeviationPrefix = "monthly_rainfall_deviation_"
)

var severityWeekNames = [SeverityLevels]string{"no", "mild", "moderate", "severe"}

// Field name builders for yearly layers.

func labelsField(year int) string {
	return fmt.Sprintf("drought_labels_%d", year)
}

func drySpellField(year int) string {
	return fmt.Sprintf("dryspell_length_%d", year)
}

func totalWeeksField(year int) string {
	return fmt.Sprintf("total_weeks_%d", year)
}

func onsetField(year int) string {
	return fmt.Sprintf("monsoon_onset_%d", year)
}

func croppedSqKmField(year int) string {
	return fmt.Sprintf("kharif_cropped_sqkm_%d", year)
}

func pctCroppedField(year int) string {
	return fmt.Sprintf("percent_of_area_cropped_kharif_%d", year)
}

func weeksField(year, sev int) string {
	return fmt.Sprintf("number_of_weeks_in_%s_drought_%d", severityWeekNames[sev], year)
}

func freqField(year, t int) string {
	return fmt.Sprintf("freq_of_drought_%d_at_threshold_%d", year, t)
}

func intensityField(year, t int) string {
	return fmt.Sprintf("intensity_of_drought_%d_at_threshold_%d", year, t)
}

// RainfallDeviationField names the 28-day rainfall deviation column of a week.
func RainfallDeviationField(weekStart time.Time) string {
	return rainfallDeviationPrefix + DateKey(weekStart)
}

// Fields returns the record's attributes under their long yearly names.
func (r AnnualZoneRecord) Fields() map[string]any {
	labels, _ := json.Marshal(r.Labels)
	f := map[string]any{
		labelsField(r.Year):      string(labels),
		drySpellField(r.Year):    r.MaxDrySpellLength,
		totalWeeksField(r.Year):  r.TotalWeeks,
		onsetField(r.Year):       r.MonsoonOnset,
		croppedSqKmField(r.Year): nullable(r.CroppedSqKm),
		pctCroppedField(r.Year):  nullable(r.PercentCropped),
	}
	for s := range SeverityLevels {
		f[weeksField(r.Year, s)] = r.WeeksBySeverity[s]
		f[freqField(r.Year, s)] = r.Frequency[s]
		f[intensityField(r.Year, s)] = nullable(r.Intensity[s])
	}
	for _, dv := range r.RainfallDeviation {
		f[RainfallDeviationField(dv.Date)] = nullable(dv.Value)
	}
	return f
}

// Feature encodes the record as a GeoJSON feature with long yearly field names.
func (r AnnualZoneRecord) Feature() *geojson.Feature {
	feat := geojson.NewFeature(r.Geometry)
	feat.Properties[PropUID] = r.UID
	feat.Properties[PropAreaHa] = r.AreaHa
	for k, v := range r.Fields() {
		feat.Properties[k] = v
	}
	return feat
}

// AnnualFromFeature decodes a yearly feature produced by Feature.
func AnnualFromFeature(feat *geojson.Feature, year int) (AnnualZoneRecord, error) {
	props := feat.Properties
	uid, ok := props[PropUID].(string)
	if !ok || uid == "" {
		return AnnualZoneRecord{}, fmt.Errorf("decode %d feature: missing %s", year, PropUID)
	}

	rec := AnnualZoneRecord{
		UID:      uid,
		Year:     year,
		Geometry: feat.Geometry,
	}
	rec.AreaHa, _ = numberProp(props, PropAreaHa)

	total, ok := numberProp(props, totalWeeksField(year))
	if !ok {
		return AnnualZoneRecord{}, fmt.Errorf("decode %d feature %s: missing %s", year, uid, totalWeeksField(year))
	}
	rec.TotalWeeks = int(total)

	if raw, ok := props[labelsField(year)].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Labels); err != nil {
			return AnnualZoneRecord{}, fmt.Errorf("decode %d feature %s labels: %w", year, uid, err)
		}
	}
	if v, ok := numberProp(props, drySpellField(year)); ok {
		rec.MaxDrySpellLength = int(v)
	}
	rec.MonsoonOnset, _ = props[onsetField(year)].(string)
	rec.CroppedSqKm = optionalNumber(props, croppedSqKmField(year))
	rec.PercentCropped = optionalNumber(props, pctCroppedField(year))

	for s := range SeverityLevels {
		if v, ok := numberProp(props, weeksField(year, s)); ok {
			rec.WeeksBySeverity[s] = int(v)
		}
		if v, ok := numberProp(props, freqField(year, s)); ok {
			rec.Frequency[s] = int(v)
		}
		rec.Intensity[s] = optionalNumber(props, intensityField(year, s))
	}

	for key := range props {
		rest, ok := strings.CutPrefix(key, rainfallDeviationPrefix)
		if !ok {
			continue
		}
		date, err := time.Parse(DateKeyLayout, rest)
		if err != nil {
			return AnnualZoneRecord{}, fmt.Errorf("decode %d feature %s: bad date in %s: %w", year, uid, key, err)
		}
		rec.RainfallDeviation = append(rec.RainfallDeviation, DatedValue{Date: date, Value: optionalNumber(props, key)})
	}
	sort.Slice(rec.RainfallDeviation, func(i, j int) bool {
		return rec.RainfallDeviation[i].Date.Before(rec.RainfallDeviation[j].Date)
	})

	return rec, nil
}

// AnnualFeatureCollection encodes records sorted by UID.
func AnnualFeatureCollection(records []AnnualZoneRecord) *geojson.FeatureCollection {
	sorted := append([]AnnualZoneRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UID < sorted[j].UID })

	fc := geojson.NewFeatureCollection()
	for _, r := range sorted {
		fc.Append(r.Feature())
	}
	return fc
}

// AnnualFromFeatureCollection decodes every feature of a yearly layer.
func AnnualFromFeatureCollection(fc *geojson.FeatureCollection, year int) ([]AnnualZoneRecord, error) {
	out := make([]AnnualZoneRecord, 0, len(fc.Features))
	for _, f := range fc.Features {
		rec, err := AnnualFromFeature(f, year)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// numberProp reads a numeric property that may have been decoded from JSON
// (float64) or set directly (int).
func numberProp(props geojson.Properties, key string) (float64, bool) {
	switch v := props[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func optionalNumber(props geojson.Properties, key string) *float64 {
	if v, ok := numberProp(props, key); ok {
		return Float(v)
	}
	return nil
}

// ZonesFromFeatureCollection decodes zone polygons. Each feature needs a
// "uid" property; "area_in_ha" is computed geodesically when absent and an
// optional "region" property presets the onset region.
func ZonesFromFeatureCollection(fc *geojson.FeatureCollection) ([]Zone, error) {
	zones := make([]Zone, 0, len(fc.Features))
	seen := make(map[string]bool, len(fc.Features))
	for i, f := range fc.Features {
		var uid string
		switch v := f.Properties[PropUID].(type) {
		case string:
			uid = v
		case float64:
			uid = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if uid == "" {
			return nil, fmt.Errorf("decode zone %d: missing %s", i, PropUID)
		}
		if seen[uid] {
			return nil, fmt.Errorf("decode zone %d: duplicate %s %q", i, PropUID, uid)
		}
		seen[uid] = true

		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		case nil:
			return nil, fmt.Errorf("decode zone %s: missing geometry", uid)
		default:
			return nil, fmt.Errorf("decode zone %s: geometry must be a polygon, got %s", uid, f.Geometry.GeoJSONType())
		}

		area, ok := numberProp(f.Properties, PropAreaHa)
		if !ok {
			area = geo.Area(f.Geometry) / 10_000
		}
		zones = append(zones, Zone{
			UID:      uid,
			Geometry: f.Geometry,
			AreaHa:   area,
			Region:   Region(f.Properties.MustString("region", "")),
		})
	}
	return zones, nil
}
