package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/asset"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/orchestrator"
	"github.com/couchcryptid/drought-severity-etl/internal/pipeline"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFolder = "projects/drought/assets/maharashtra/pune/mulshi/"

// memorySink completes every export on its first poll.
type memorySink struct {
	mu      sync.Mutex
	assets  map[string]*geojson.FeatureCollection
	staged  map[asset.JobHandle]*geojson.FeatureCollection
	public  map[string]bool
	exports []string
}

func newMemorySink() *memorySink {
	return &memorySink{
		assets: make(map[string]*geojson.FeatureCollection),
		staged: make(map[asset.JobHandle]*geojson.FeatureCollection),
		public: make(map[string]bool),
	}
}

func (s *memorySink) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.assets[path]
	return ok, nil
}

func (s *memorySink) Export(_ context.Context, fc *geojson.FeatureCollection, _, path string) (asset.JobHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exports = append(s.exports, path)
	s.staged[asset.JobHandle(path)] = fc
	return asset.JobHandle(path), nil
}

func (s *memorySink) JobStatus(_ context.Context, h asset.JobHandle) (asset.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[string(h)] = s.staged[h]
	return asset.JobStatus{Status: asset.StatusSucceeded}, nil
}

func (s *memorySink) MakePublic(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.public[path] = true
	return nil
}

func (s *memorySink) Read(_ context.Context, path string) (*geojson.FeatureCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fc, ok := s.assets[path]
	if !ok {
		return nil, asset.ErrNotFound
	}
	return fc, nil
}

type staticZones []domain.Zone

func (z staticZones) LoadZones(context.Context, domain.RunRequest) ([]domain.Zone, error) {
	return z, nil
}

// fakeSeason aggregates a fixed season for each zone and records the years
// it was asked for.
type fakeSeason struct {
	mu    sync.Mutex
	years []int
	err   error
}

func (f *fakeSeason) Run(_ context.Context, year int, zones []domain.Zone) ([]domain.AnnualZoneRecord, error) {
	f.mu.Lock()
	f.years = append(f.years, year)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.AnnualZoneRecord, len(zones))
	for i, z := range zones {
		out[i] = annualRecord(z, year, year-2019)
	}
	return out, nil
}

func (f *fakeSeason) seen() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Clone(f.years)
	slices.Sort(out)
	return slices.Compact(out)
}

func annualRecord(z domain.Zone, year, dryWeeks int) domain.AnnualZoneRecord {
	onset := time.Date(year, 6, 20, 0, 0, 0, 0, time.UTC)
	in := domain.AnnualInput{Zone: z, Year: year, Onset: onset, PercentCropped: domain.Float(80), CroppedSqKm: domain.Float(0.04)}
	for w := range 6 {
		dry := w < dryWeeks
		rec := domain.WeeklyIndicatorRecord{
			UID:                 z.UID,
			WeekStart:           onset.AddDate(0, 0, 7*w),
			RainfallDeviation7:  domain.Float(-10),
			RainfallDeviation28: domain.Float(-10),
			DrySpell:            domain.Bool(dry),
		}
		if dry {
			rec.RainfallDeviation7 = domain.Float(-60)
			rec.RainfallDeviation28 = domain.Float(-60)
		}
		in.Records = append(in.Records, rec)
		in.Labels = append(in.Labels, domain.Classify(rec))
	}
	return domain.Aggregate(in)
}

func testRequest() domain.RunRequest {
	return domain.RunRequest{State: "Maharashtra", District: "Pune", Block: "Mulshi", StartYear: 2022, EndYear: 2023}
}

func newTestRunner(sink asset.Sink, season pipeline.SeasonRunner, zones []domain.Zone, maxFeatures int) *pipeline.Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := newTestMetrics()
	orch := orchestrator.New(sink, orchestrator.Config{
		MaxFeatures:  maxFeatures,
		Concurrency:  2,
		PollInterval: time.Millisecond,
		JobTimeout:   time.Second,
	}, nil, logger, metrics)
	cfg := pipeline.RunnerConfig{AssetRoot: "projects/drought/assets", AssetPrefix: "drought"}
	return pipeline.NewRunner(staticZones(zones), season, orch, sink, cfg, logger, metrics)
}

func TestRunner_AssetFolder(t *testing.T) {
	r := newTestRunner(newMemorySink(), &fakeSeason{}, nil, 10)
	assert.Equal(t, testFolder, r.AssetFolder(testRequest()))
}

func TestRunner_Run(t *testing.T) {
	sink := newMemorySink()
	season := &fakeSeason{}
	r := newTestRunner(sink, season, seasonZones("z3", "z1", "z2"), 2)

	res, err := r.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, testFolder+"drought_pune_mulshi_2022_2023", res.Dest)
	assert.Equal(t, "pune_mulshi_drought", res.Layer)
	assert.False(t, res.Existing)
	assert.Equal(t, []int{2022, 2023}, season.seen())

	for _, path := range []string{
		testFolder + "drought_pune_mulshi_2022",
		testFolder + "drought_pune_mulshi_2023",
		res.Dest,
	} {
		assert.Contains(t, sink.assets, path)
		assert.True(t, sink.public[path], path)
	}
	assert.Contains(t, sink.assets, testFolder+"pune_mulshi_drought_0-2_2022")

	require.Len(t, res.Records, 3)
	assert.Equal(t, "z1", res.Records[0].UID)
	rec := res.Records[0]
	assert.Equal(t, 2022, rec.StartYear)
	assert.Equal(t, 2023, rec.EndYear)
	assert.Contains(t, rec.Fields, "drlb_2022")
	assert.Contains(t, rec.Fields, "drlb_2023")
	assert.Contains(t, rec.Fields, "m_ons_2023")
	assert.Equal(t, 2023, domain.LastMergedYear(rec.Properties()))
	assert.Len(t, sink.assets[res.Dest].Features, 3)
}

func TestRunner_Run_ExistingDestination(t *testing.T) {
	first := newMemorySink()
	_, err := newTestRunner(first, &fakeSeason{}, seasonZones("z2", "z1"), 10).Run(context.Background(), testRequest())
	require.NoError(t, err)

	dest := testFolder + "drought_pune_mulshi_2022_2023"
	sink := newMemorySink()
	sink.assets[dest] = first.assets[dest]
	season := &fakeSeason{}
	r := newTestRunner(sink, season, seasonZones("z1", "z2"), 10)

	res, err := r.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, res.Existing)
	assert.Zero(t, res.Exports)
	assert.Empty(t, sink.exports)
	assert.Empty(t, season.seen())

	require.Len(t, res.Records, 2)
	assert.Equal(t, "z1", res.Records[0].UID)
	assert.Equal(t, 2022, res.Records[0].StartYear)
	assert.Contains(t, res.Records[0].Fields, "drlb_2023")
}

func TestRunner_Run_ExistingDestinationUnreadable(t *testing.T) {
	sink := newMemorySink()
	bad := geojson.NewFeatureCollection()
	bad.Append(geojson.NewFeature(nil))
	sink.assets[testFolder+"drought_pune_mulshi_2022_2023"] = bad
	r := newTestRunner(sink, &fakeSeason{}, seasonZones("z1"), 10)

	_, err := r.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestRunner_Run_ReusesYearlyAssets(t *testing.T) {
	sink := newMemorySink()
	zones := seasonZones("z1", "z2")
	sink.assets[testFolder+"drought_pune_mulshi_2022"] = domain.AnnualFeatureCollection([]domain.AnnualZoneRecord{
		annualRecord(zones[0], 2022, 3),
		annualRecord(zones[1], 2022, 3),
	})
	season := &fakeSeason{}
	r := newTestRunner(sink, season, zones, 10)

	res, err := r.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, []int{2023}, season.seen())
	assert.Equal(t, 2, res.Exports, "2023 yearly asset and merged asset")
	require.Len(t, res.Records, 2)
}

func TestRunner_Run_MissingZoneInYear(t *testing.T) {
	sink := newMemorySink()
	zones := seasonZones("z1", "z2")
	sink.assets[testFolder+"drought_pune_mulshi_2022"] = domain.AnnualFeatureCollection([]domain.AnnualZoneRecord{
		annualRecord(zones[0], 2022, 1),
	})
	r := newTestRunner(sink, &fakeSeason{}, zones, 10)

	_, err := r.Run(context.Background(), testRequest())

	var incomplete *domain.IncompleteMergeError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, "z2", incomplete.UID)
	assert.NotContains(t, sink.assets, testFolder+"drought_pune_mulshi_2022_2023")
}

func TestRunner_Run_SeasonFailure(t *testing.T) {
	sink := newMemorySink()
	season := &fakeSeason{err: &domain.NoOnsetFoundError{Region: domain.RegionCentral, Year: 2022}}
	r := newTestRunner(sink, season, seasonZones("z1", "z2", "z3"), 2)

	_, err := r.Run(context.Background(), testRequest())

	var noOnset *domain.NoOnsetFoundError
	require.ErrorAs(t, err, &noOnset)
	var incomplete *domain.IncompleteMergeError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []int{0, 1}, incomplete.Chunks)
	assert.Equal(t, []int{2022}, season.seen(), "later years are not attempted")
}

func TestRunner_Run_InvalidRequest(t *testing.T) {
	r := newTestRunner(newMemorySink(), &fakeSeason{}, nil, 10)
	req := testRequest()
	req.StartYear, req.EndYear = 2024, 2022

	_, err := r.Run(context.Background(), req)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asset.ErrNotFound))
}
