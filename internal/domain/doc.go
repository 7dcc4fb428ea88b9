// Package domain models zone-level drought severity records and the pure
// functions that derive them.
//
// # Data Source
//
// Indicators are computed upstream from zonal reductions of gridded daily
// precipitation (CHIRPS), 8-day MODIS ET/PET composites, daily MODIS
// NDVI/NDWI and yearly LULC crop-class maps. Nothing in this package touches
// pixels: every input arrives as a per-zone scalar already reduced by the
// external compute backend.
//
// # Season Conventions
//
// A season starts at the monsoon onset date detected for the zone's
// agro-climatic region and ends on October 31 of the same year. Week starts
// are spaced 7 days apart from onset through the season end inclusive.
// Indicators for a week start look forward over a 28-day window.
//
// Date keys embedded in field names use the unpadded "YYYY-M-D" form
// (e.g. "2023-7-5"), matching the layer attributes consumed by downstream
// dashboards. See [DateKey].
//
// # Classification
//
// Each weekly record is fused into a [DroughtLabel] by [Classify]:
//
//	Rainfall deviation:  >= -19% normal | -59% to -19% deficit | < -59% scanty
//	Meteorological:      dry spell OR scanty rainfall OR SPI < -1.5
//	VCI class:           <= 40 severe | <= 60 moderate | otherwise none
//	MAI class:           <= 25 severe | <= 50 moderate | otherwise none
//	Area sown class:     <= 33.3 severe | <= 50 moderate | otherwise none
//
//	Severity: 0 without meteorological drought; 3 when all three indicator
//	classes are severe; 2 when at least two are moderate; otherwise 1.
//
// Unavailable indicators never trigger drought: a missing SPI counts as 0, a
// missing dry-spell flag as "no dry spell", and missing VCI/MAI/area-sown as
// the "none" class.
//
// The label reported for a week is the maximum severity over that week and
// the three preceding weeks, clamped at the season start ([RollupWeekly]).
//
// # Annual and Longitudinal Records
//
// [Aggregate] rolls a season of labels into an [AnnualZoneRecord]. Yearly
// records travel between stages as GeoJSON features with long field names
// ("freq_of_drought_2023_at_threshold_2"); [MergeZone] folds them in
// ascending year order into a [LongitudinalZoneRecord] whose fields use the
// fixed short codes ("frth2_2023") required by the published vector layer.
package domain
