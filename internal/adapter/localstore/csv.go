package localstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/gocarina/gocsv"
)

// SummaryRow is one zone-year of a merged layer in tabular form.
type SummaryRow struct {
	UID            string   `csv:"uid"`
	Year           int      `csv:"year"`
	AreaHa         float64  `csv:"area_in_ha"`
	MonsoonOnset   string   `csv:"monsoon_onset"`
	TotalWeeks     int      `csv:"total_weeks"`
	WeeksNo        int      `csv:"weeks_no_drought"`
	WeeksMild      int      `csv:"weeks_mild"`
	WeeksModerate  int      `csv:"weeks_moderate"`
	WeeksSevere    int      `csv:"weeks_severe"`
	DrySpell       int      `csv:"max_dryspell_weeks"`
	AvgDrySpell    float64  `csv:"avg_dryspell"`
	PercentCropped *float64 `csv:"percent_cropped"`
	DroughtLabels  string   `csv:"drought_labels"`
}

// SummaryRows flattens merged records into one row per zone and year, in
// record order then ascending year.
func SummaryRows(records []domain.LongitudinalZoneRecord) []SummaryRow {
	var rows []SummaryRow
	for _, r := range records {
		for year := r.StartYear; year <= r.EndYear; year++ {
			f := func(code string) any { return r.Fields[fmt.Sprintf("%s_%d", code, year)] }
			rows = append(rows, SummaryRow{
				UID:            r.UID,
				Year:           year,
				AreaHa:         r.AreaHa,
				MonsoonOnset:   stringValue(f("m_ons")),
				TotalWeeks:     intValue(f("t_wks")),
				WeeksNo:        intValue(f("w_no")),
				WeeksMild:      intValue(f("w_mld")),
				WeeksModerate:  intValue(f("w_mod")),
				WeeksSevere:    intValue(f("w_sev")),
				DrySpell:       intValue(f("drysp")),
				AvgDrySpell:    r.AvgDrySpell,
				PercentCropped: floatValue(f("pcr_k")),
				DroughtLabels:  stringValue(f("drlb")),
			})
		}
	}
	return rows
}

// WriteSummaryCSV writes SummaryRows of records to w with a header.
func WriteSummaryCSV(w io.Writer, records []domain.LongitudinalZoneRecord) error {
	rows := SummaryRows(records)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("encode summary csv: %w", err)
	}
	return nil
}

// WriteSummaryCSVFile writes the summary to path atomically.
func WriteSummaryCSVFile(path string, records []domain.LongitudinalZoneRecord) error {
	rows := SummaryRows(records)
	data, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return fmt.Errorf("encode summary csv: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return err
	}
	return os.Chmod(path, publicPerm)
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func intValue(v any) int {
	if f := floatValue(v); f != nil {
		return int(*f)
	}
	return 0
}

func floatValue(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return nil
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil
		}
		f = x
	default:
		return nil
	}
	return &f
}
