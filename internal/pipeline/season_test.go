package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/climatology"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/observability"
	"github.com/couchcryptid/drought-severity-etl/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockOnset struct {
	onset time.Time
	err   error
	calls atomic.Int32
}

func (m *mockOnset) Detect(_ context.Context, year int, region domain.Region) (time.Time, error) {
	m.calls.Add(1)
	if m.err != nil {
		return time.Time{}, m.err
	}
	return m.onset, nil
}

// mockCalculator reports a dry week every other week.
type mockCalculator struct {
	err error
}

func (m *mockCalculator) Compute(_ context.Context, zone domain.Zone, weekStart time.Time, pct *float64) (domain.WeeklyIndicatorRecord, error) {
	if m.err != nil {
		return domain.WeeklyIndicatorRecord{}, m.err
	}
	rec := domain.WeeklyIndicatorRecord{
		UID:                 zone.UID,
		WeekStart:           weekStart,
		RainfallDeviation7:  domain.Float(-10),
		RainfallDeviation28: domain.Float(-10),
		DrySpell:            domain.Bool(false),
		SPI:                 domain.Float(0.2),
		VCI:                 domain.Float(70),
		MAI:                 domain.Float(80),
		PercentCropped:      pct,
	}
	if weekStart.YearDay()%14 < 7 {
		rec.RainfallDeviation28 = domain.Float(-70)
		rec.DrySpell = domain.Bool(true)
		rec.SPI = domain.Float(-2)
		rec.VCI = domain.Float(20)
	}
	return rec, nil
}

func (m *mockCalculator) PercentCropped(context.Context, domain.Zone, int) (*float64, *float64, error) {
	return domain.Float(80), domain.Float(0.04), nil
}

func seasonZones(uids ...string) []domain.Zone {
	out := make([]domain.Zone, len(uids))
	for i, uid := range uids {
		out[i] = domain.Zone{
			UID:      uid,
			Geometry: orb.Bound{Min: orb.Point{77, 20}, Max: orb.Point{77.1, 20.1}}.ToPolygon(),
			AreaHa:   120,
			Region:   domain.RegionCentral,
		}
	}
	return out
}

func fixClock(t *testing.T, now time.Time) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() {
		domain.SetClock(nil)
	})
}

func newTestSeason(onset pipeline.OnsetDetector, calc pipeline.IndicatorCalculator, cfg pipeline.SeasonConfig) (*pipeline.Season, *observability.Metrics) {
	metrics := newTestMetrics()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return pipeline.NewSeason(onset, calc, cfg, logger, metrics), metrics
}

func TestSeason_Run(t *testing.T) {
	fixClock(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	onset := &mockOnset{onset: time.Date(2023, 10, 3, 0, 0, 0, 0, time.UTC)}
	season, metrics := newTestSeason(onset, &mockCalculator{}, pipeline.SeasonConfig{Workers: 3})

	var done atomic.Int32
	season.OnZoneDone(func() { done.Add(1) })

	records, err := season.Run(context.Background(), 2023, seasonZones("z1", "z2", "z3", "z4"))
	require.NoError(t, err)
	require.Len(t, records, 4)

	for i, rec := range records {
		assert.Equal(t, seasonZones("z1", "z2", "z3", "z4")[i].UID, rec.UID)
		assert.Equal(t, 2023, rec.Year)
		assert.Equal(t, "2023-10-3", rec.MonsoonOnset)
		assert.Equal(t, 5, rec.TotalWeeks, "Oct 3 through Oct 31")
		assert.Equal(t, 80.0, *rec.PercentCropped)
		assert.NoError(t, rec.CheckInvariants())
	}
	assert.EqualValues(t, 1, onset.calls.Load(), "one detection per region")
	assert.EqualValues(t, 4, done.Load())
	assert.InDelta(t, 4.0, observability.CounterValue(metrics.ZonesProcessed), 0)
}

func TestSeason_Run_CurrentSeasonEndsToday(t *testing.T) {
	fixClock(t, time.Date(2023, 10, 12, 0, 0, 0, 0, time.UTC))
	onset := &mockOnset{onset: time.Date(2023, 10, 3, 0, 0, 0, 0, time.UTC)}
	season, _ := newTestSeason(onset, &mockCalculator{}, pipeline.SeasonConfig{Workers: 1})

	records, err := season.Run(context.Background(), 2023, seasonZones("z1"))
	require.NoError(t, err)
	assert.Equal(t, 2, records[0].TotalWeeks)
}

func TestSeason_Run_NoOnset(t *testing.T) {
	fixClock(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	onset := &mockOnset{err: &domain.NoOnsetFoundError{Region: domain.RegionCentral, Year: 2023}}
	season, _ := newTestSeason(onset, &mockCalculator{}, pipeline.SeasonConfig{Workers: 2})

	_, err := season.Run(context.Background(), 2023, seasonZones("z1"))

	var noOnset *domain.NoOnsetFoundError
	require.ErrorAs(t, err, &noOnset)
	assert.Equal(t, domain.RegionCentral, noOnset.Region)
}

func TestSeason_Run_OnsetFallback(t *testing.T) {
	fixClock(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	onset := &mockOnset{err: &domain.NoOnsetFoundError{Region: domain.RegionCentral, Year: 2023}}
	fallback, err := climatology.ParseMonthDay("06-15")
	require.NoError(t, err)
	season, _ := newTestSeason(onset, &mockCalculator{}, pipeline.SeasonConfig{Workers: 2, OnsetFallback: &fallback})

	records, err := season.Run(context.Background(), 2023, seasonZones("z1"))
	require.NoError(t, err)
	assert.Equal(t, "2023-6-15", records[0].MonsoonOnset)
	assert.Equal(t, 20, records[0].TotalWeeks)
}

func TestSeason_Run_OnsetBackendErrorIsNotReplaced(t *testing.T) {
	fixClock(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	boom := errors.New("backend unavailable")
	fallback := climatology.MonthDay{Month: time.June, Day: 15}
	season, _ := newTestSeason(&mockOnset{err: boom}, &mockCalculator{}, pipeline.SeasonConfig{OnsetFallback: &fallback})

	_, err := season.Run(context.Background(), 2023, seasonZones("z1"))
	assert.ErrorIs(t, err, boom)
}

func TestSeason_Run_ComputeErrorNamesZone(t *testing.T) {
	fixClock(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	onset := &mockOnset{onset: time.Date(2023, 10, 3, 0, 0, 0, 0, time.UTC)}
	season, metrics := newTestSeason(onset, &mockCalculator{err: context.DeadlineExceeded}, pipeline.SeasonConfig{Workers: 1})

	_, err := season.Run(context.Background(), 2023, seasonZones("z7"))

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "zone z7")
	assert.Zero(t, observability.CounterValue(metrics.ZonesProcessed))
}

func TestSeason_Run_UnknownRegion(t *testing.T) {
	fixClock(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	onset := &mockOnset{onset: time.Date(2023, 10, 3, 0, 0, 0, 0, time.UTC)}
	season, _ := newTestSeason(onset, &mockCalculator{}, pipeline.SeasonConfig{Workers: 1})

	zone := domain.Zone{UID: "far", Geometry: orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{10.1, 10.1}}.ToPolygon()}
	_, err := season.Run(context.Background(), 2023, []domain.Zone{zone})
	assert.ErrorIs(t, err, climatology.ErrNoRegion)
}
