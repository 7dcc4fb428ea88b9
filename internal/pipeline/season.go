package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/climatology"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/observability"
	"github.com/gammazero/workerpool"
)

// OnsetDetector finds the monsoon onset date of a region's season.
type OnsetDetector interface {
	Detect(ctx context.Context, year int, region domain.Region) (time.Time, error)
}

// IndicatorCalculator computes the weekly indicators of a zone.
type IndicatorCalculator interface {
	Compute(ctx context.Context, zone domain.Zone, weekStart time.Time, pctCropped *float64) (domain.WeeklyIndicatorRecord, error)
	PercentCropped(ctx context.Context, zone domain.Zone, year int) (pct, sqkm *float64, err error)
}

// SeasonConfig tunes season processing.
type SeasonConfig struct {
	Workers int
	// OnsetFallback, when set, starts the season of a region without a
	// detectable onset on this day instead of failing the year.
	OnsetFallback *climatology.MonthDay
}

// Season turns the zones of one year into AnnualZoneRecords.
type Season struct {
	onset    OnsetDetector
	calc     IndicatorCalculator
	cfg      SeasonConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
	progress func()
}

// NewSeason creates a Season processor.
func NewSeason(onset OnsetDetector, calc IndicatorCalculator, cfg SeasonConfig, logger *slog.Logger, metrics *observability.Metrics) *Season {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Season{
		onset:   onset,
		calc:    calc,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// OnZoneDone registers a callback run after each zone completes.
func (s *Season) OnZoneDone(fn func()) {
	s.progress = fn
}

// Run computes the annual record of every zone for year, in zone order.
// Zones without a region are assigned one first.
func (s *Season) Run(ctx context.Context, year int, zones []domain.Zone) ([]domain.AnnualZoneRecord, error) {
	zones, err := climatology.AssignRegions(zones)
	if err != nil {
		return nil, err
	}

	onsets := make(map[domain.Region]time.Time)
	for _, z := range zones {
		if _, ok := onsets[z.Region]; ok {
			continue
		}
		onset, err := s.detectOnset(ctx, year, z.Region)
		if err != nil {
			return nil, err
		}
		onsets[z.Region] = onset
	}

	end := climatology.SeasonEnd(year)
	if now := domain.Now(); now.Before(end) {
		end = now
	}

	var (
		mu       sync.Mutex
		firstErr error
		records  = make([]domain.AnnualZoneRecord, len(zones))
	)
	wp := workerpool.New(s.cfg.Workers)
	for i, z := range zones {
		wp.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			rec, err := s.zone(ctx, year, z, onsets[z.Region], end)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("zone %s: %w", z.UID, err)
				}
				return
			}
			records[i] = rec
			if s.progress != nil {
				s.progress()
			}
		})
	}
	wp.StopWait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Season) detectOnset(ctx context.Context, year int, region domain.Region) (time.Time, error) {
	onset, err := s.onset.Detect(ctx, year, region)
	var noOnset *domain.NoOnsetFoundError
	if errors.As(err, &noOnset) && s.cfg.OnsetFallback != nil {
		fallback := s.cfg.OnsetFallback.In(year)
		s.logger.Warn("no monsoon onset found, using fallback",
			"region", region, "year", year, "fallback", domain.DateKey(fallback))
		return fallback, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	s.logger.Info("monsoon onset detected", "region", region, "year", year, "onset", domain.DateKey(onset))
	return onset, nil
}

// zone classifies every week of the season and aggregates the labels.
func (s *Season) zone(ctx context.Context, year int, z domain.Zone, onset, end time.Time) (domain.AnnualZoneRecord, error) {
	pct, sqkm, err := s.calc.PercentCropped(ctx, z, year)
	if err != nil {
		return domain.AnnualZoneRecord{}, err
	}

	weeks := climatology.WeekStarts(onset, end)
	in := domain.AnnualInput{
		Zone:           z,
		Year:           year,
		Onset:          onset,
		Records:        make([]domain.WeeklyIndicatorRecord, 0, len(weeks)),
		Labels:         make([]domain.DroughtLabel, 0, len(weeks)),
		PercentCropped: pct,
		CroppedSqKm:    sqkm,
	}
	for _, w := range weeks {
		rec, err := s.calc.Compute(ctx, z, w, pct)
		if err != nil {
			return domain.AnnualZoneRecord{}, fmt.Errorf("compute week %s: %w", domain.DateKey(w), err)
		}
		in.Records = append(in.Records, rec)
		in.Labels = append(in.Labels, domain.Classify(rec))
	}

	out := domain.Aggregate(in)
	if err := out.CheckInvariants(); err != nil {
		return domain.AnnualZoneRecord{}, err
	}
	s.metrics.ZonesProcessed.Inc()
	s.logger.Debug("zone classified", "uid", z.UID, "year", year, "weeks", out.TotalWeeks, "max_dryspell", out.MaxDrySpellLength)
	return out, nil
}
