package domain

// Thresholds for the classifier. Rainfall deviations are percentages.
const (
	rainfallNormalMin  = -19.0
	rainfallDeficitMin = -59.0
	spiDroughtBelow    = -1.5

	vciSevereMax       = 40.0
	vciModerateMax     = 60.0
	maiSevereMax       = 25.0
	maiModerateMax     = 50.0
	croppedSevereMax   = 33.3
	croppedModerateMax = 50.0

	// rollupWindow is the number of weeks (current plus preceding) whose
	// maximum severity becomes the weekly label.
	rollupWindow = 4
)

// Classify fuses one week's indicators into a drought label.
func Classify(rec WeeklyIndicatorRecord) DroughtLabel {
	label := DroughtLabel{
		UID:          rec.UID,
		WeekStart:    rec.WeekStart,
		Rainfall:     classifyRainfall(rec.RainfallDeviation28),
		VCIClass:     classifyVCI(rec.VCI),
		MAIClass:     classifyMAI(rec.MAI),
		CroppedClass: classifyCropped(rec.PercentCropped),
	}
	label.Meteorological = isMeteorologicalDrought(rec, label.Rainfall)
	label.Severity = compositeSeverity(label)
	return label
}

// classifyRainfall buckets the 28-day deviation. A missing deviation is
// treated as normal rainfall.
func classifyRainfall(deviation *float64) RainfallClass {
	if deviation == nil {
		return RainfallNormal
	}
	switch d := *deviation; {
	case d >= rainfallNormalMin:
		return RainfallNormal
	case d >= rainfallDeficitMin:
		return RainfallDeficit
	default:
		return RainfallScanty
	}
}

func isMeteorologicalDrought(rec WeeklyIndicatorRecord, rainfall RainfallClass) bool {
	if rec.DrySpell != nil && *rec.DrySpell {
		return true
	}
	if rainfall == RainfallScanty {
		return true
	}
	spi := 0.0
	if rec.SPI != nil {
		spi = *rec.SPI
	}
	return spi < spiDroughtBelow
}

func classifyVCI(vci *float64) IndicatorClass {
	return gradeAtMost(vci, vciSevereMax, vciModerateMax)
}

func classifyMAI(mai *float64) IndicatorClass {
	return gradeAtMost(mai, maiSevereMax, maiModerateMax)
}

func classifyCropped(pct *float64) IndicatorClass {
	return gradeAtMost(pct, croppedSevereMax, croppedModerateMax)
}

// gradeAtMost returns severe when v <= severeMax, moderate when v <= moderateMax
// and none otherwise or when v is unavailable.
func gradeAtMost(v *float64, severeMax, moderateMax float64) IndicatorClass {
	if v == nil {
		return ClassNone
	}
	switch {
	case *v <= severeMax:
		return ClassSevere
	case *v <= moderateMax:
		return ClassModerate
	default:
		return ClassNone
	}
}

func compositeSeverity(label DroughtLabel) Severity {
	if !label.Meteorological {
		return SeverityNone
	}
	classes := []IndicatorClass{label.VCIClass, label.MAIClass, label.CroppedClass}
	severe, moderate := 0, 0
	for _, c := range classes {
		switch c {
		case ClassSevere:
			severe++
		case ClassModerate:
			moderate++
		}
	}
	switch {
	case severe == len(classes):
		return SeveritySevere
	case moderate >= 2:
		return SeverityModerate
	default:
		return SeverityMild
	}
}

// RollupWeekly returns, for each label in season order, the maximum severity
// over that week and the preceding three weeks. Weeks before the season start
// are not considered.
func RollupWeekly(labels []DroughtLabel) []int {
	out := make([]int, len(labels))
	for i := range labels {
		best := SeverityNone
		for j := max(0, i-rollupWindow+1); j <= i; j++ {
			best = max(best, labels[j].Severity)
		}
		out[i] = int(best)
	}
	return out
}
