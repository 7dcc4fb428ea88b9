package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/couchcryptid/drought-severity-etl/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger_Level(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := NewLogger(&config.Config{LogLevel: "warn", LogFormat: "text"})

	ctx := context.Background()
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
	assert.Same(t, logger, slog.Default())
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.IndicatorUnavailable.WithLabelValues("vci").Inc()
	a.ZonesProcessed.Add(3)

	assert.InDelta(t, 1.0, CounterValue(a.IndicatorUnavailable.WithLabelValues("vci")), 0)
	assert.InDelta(t, 3.0, CounterValue(a.ZonesProcessed), 0)
	assert.InDelta(t, 0.0, CounterValue(b.ZonesProcessed), 0)
}
