package domain

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testZone(uid string) Zone {
	return Zone{
		UID:      uid,
		Geometry: orb.Polygon{{{77, 20}, {77.1, 20}, {77.1, 20.1}, {77, 20.1}, {77, 20}}},
		AreaHa:   12345.5,
		Region:   RegionCentral,
	}
}

func weekStarts(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = testWeek.AddDate(0, 0, 7*i)
	}
	return out
}

func seasonInput(uid string, severities []Severity, dry []bool) AnnualInput {
	weeks := weekStarts(len(severities))
	in := AnnualInput{
		Zone:           testZone(uid),
		Year:           2023,
		Onset:          weeks[0],
		PercentCropped: Float(72.5),
		CroppedSqKm:    Float(41.2),
	}
	for i, w := range weeks {
		rec := WeeklyIndicatorRecord{UID: uid, WeekStart: w, RainfallDeviation28: Float(float64(-10 * i))}
		if dry != nil {
			rec.DrySpell = Bool(dry[i])
		}
		in.Records = append(in.Records, rec)
		in.Labels = append(in.Labels, DroughtLabel{UID: uid, WeekStart: w, Severity: severities[i]})
	}
	return in
}

func TestMaxDrySpellLength(t *testing.T) {
	tests := []struct {
		name  string
		flags []bool
		want  int
	}{
		{"empty", nil, 0},
		{"never dry", []bool{false, false}, 0},
		{"single dry week", []bool{false, true, false}, 4},
		{"longest run wins", []bool{true, true, false, true, true, true, false}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaxDrySpellLength(tt.flags))
		})
	}
}

func TestAggregate(t *testing.T) {
	in := seasonInput("z1", []Severity{0, 2, 0, 0, 0, 0, 1}, []bool{false, true, true, false, false, false, false})
	rec := Aggregate(in)

	require.NoError(t, rec.CheckInvariants())
	assert.Equal(t, "z1", rec.UID)
	assert.Equal(t, 2023, rec.Year)
	assert.Equal(t, 12345.5, rec.AreaHa)
	assert.Equal(t, []int{0, 2, 2, 2, 2, 0, 1}, rec.Labels)
	assert.Equal(t, 7, rec.TotalWeeks)
	assert.Equal(t, [SeverityLevels]int{2, 1, 4, 0}, rec.WeeksBySeverity)
	assert.Equal(t, [SeverityLevels]int{7, 5, 4, 0}, rec.Frequency)
	require.NotNil(t, rec.Intensity[0])
	assert.InDelta(t, 9.0/7.0, *rec.Intensity[0], 1e-9)
	assert.InDelta(t, 9.0/5.0, *rec.Intensity[1], 1e-9)
	assert.InDelta(t, 2.0, *rec.Intensity[2], 1e-9)
	assert.Nil(t, rec.Intensity[3])
	assert.Equal(t, 5, rec.MaxDrySpellLength)
	assert.Equal(t, "2023-7-5", rec.MonsoonOnset)
	assert.Equal(t, 72.5, *rec.PercentCropped)
	require.Len(t, rec.RainfallDeviation, 7)
	assert.Equal(t, testWeek, rec.RainfallDeviation[0].Date)
	assert.Equal(t, -60.0, *rec.RainfallDeviation[6].Value)
}

func TestAggregate_NoDroughtWeeks(t *testing.T) {
	rec := Aggregate(seasonInput("z2", []Severity{0, 0, 0}, nil))

	require.NoError(t, rec.CheckInvariants())
	assert.Equal(t, [SeverityLevels]int{3, 0, 0, 0}, rec.Frequency)
	require.NotNil(t, rec.Intensity[0])
	assert.Equal(t, 0.0, *rec.Intensity[0])
	for _, intensity := range rec.Intensity[1:] {
		assert.Nil(t, intensity)
	}
	assert.Equal(t, 0, rec.MaxDrySpellLength)
}

func TestAggregate_EmptySeason(t *testing.T) {
	rec := Aggregate(AnnualInput{Zone: testZone("z3"), Year: 2023})

	require.NoError(t, rec.CheckInvariants())
	assert.Equal(t, 0, rec.TotalWeeks)
	assert.Empty(t, rec.MonsoonOnset)
	for _, intensity := range rec.Intensity {
		assert.Nil(t, intensity)
	}
}

func TestAggregate_InvariantsHoldForAllSeasons(t *testing.T) {
	// Every sequence of four labels over {0..3}.
	for code := range 256 {
		sev := make([]Severity, 4)
		for i := range sev {
			sev[i] = Severity((code >> (2 * i)) & 3)
		}
		rec := Aggregate(seasonInput("z", sev, nil))
		require.NoError(t, rec.CheckInvariants(), "labels %v", sev)
		for tr := range SeverityLevels {
			assert.Equal(t, rec.Frequency[tr] == 0, rec.Intensity[tr] == nil)
		}
	}
}

func TestCheckInvariants_Violations(t *testing.T) {
	valid := func() AnnualZoneRecord {
		return Aggregate(seasonInput("z", []Severity{1, 0, 0, 0, 0}, nil))
	}

	t.Run("sum mismatch", func(t *testing.T) {
		r := valid()
		r.WeeksBySeverity[0]++
		assert.ErrorContains(t, r.CheckInvariants(), "sum")
	})

	t.Run("frequency zero mismatch", func(t *testing.T) {
		r := valid()
		r.Frequency[0]--
		assert.ErrorContains(t, r.CheckInvariants(), "threshold 0")
	})

	t.Run("not monotone", func(t *testing.T) {
		r := valid()
		r.Frequency[3] = r.Frequency[2] + 1
		r.Intensity[3] = Float(3)
		assert.ErrorContains(t, r.CheckInvariants(), "monotone")
	})

	t.Run("intensity without frequency", func(t *testing.T) {
		r := valid()
		r.Intensity[3] = Float(0)
		assert.ErrorContains(t, r.CheckInvariants(), "intensity")
	})
}
