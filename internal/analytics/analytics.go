// Package analytics answers aggregate, trend and data quality queries over
// persisted readings. It never writes.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
	"github.com/couchcryptid/telemetry-quality-etl/internal/observability"
)

var (
	// ErrUnknownTimeframe is returned for a timeframe outside the supported set.
	ErrUnknownTimeframe = errors.New("unknown timeframe")
	// ErrDaysOutOfRange is returned when a trend window is not within 1 to 90 days.
	ErrDaysOutOfRange = errors.New("days must be between 1 and 90")
)

// Trend window limits.
const (
	MinTrendDays   = 1
	MaxTrendDays   = 90
	maxTrendPoints = 100
)

var timeframes = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// Source computes raw aggregates over persisted readings. WindowStats and
// HourlyAverages consider valid readings only.
type Source interface {
	WindowStats(ctx context.Context, since time.Time) (domain.WindowStats, error)
	// HourlyAverages returns up to limit UTC-hour buckets, oldest first.
	HourlyAverages(ctx context.Context, since time.Time, limit int) ([]domain.HourlyBucket, error)
	QualitySnapshot(ctx context.Context, recentSince time.Time) (domain.QualitySnapshot, error)
}

// Cache stores encoded query responses for a short time.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Engine runs analytics queries against a Source, optionally through a Cache.
type Engine struct {
	source  Source
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewEngine creates an Engine. A nil cache disables response caching.
func NewEngine(source Source, cache Cache, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		source:  source,
		cache:   cache,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

// ValidTimeframe reports whether tf is one of 1h, 6h, 24h, 7d, 30d.
func ValidTimeframe(tf string) bool {
	_, ok := timeframes[tf]
	return ok
}

// Summary aggregates valid readings recorded within the timeframe.
func (e *Engine) Summary(ctx context.Context, timeframe string) (Summary, error) {
	window, ok := timeframes[timeframe]
	if !ok {
		return Summary{}, fmt.Errorf("%w: %q", ErrUnknownTimeframe, timeframe)
	}

	ctx, span := observability.Tracer("analytics").Start(ctx, "analytics.Summary")
	defer span.End()
	span.SetAttributes(attribute.String("analytics.timeframe", timeframe))

	var out Summary
	err := e.cached(ctx, "summary:"+timeframe, &out, func() (any, error) {
		now := domain.Now()
		start := now.Add(-window)
		stats, err := e.source.WindowStats(ctx, start)
		if err != nil {
			return nil, fmt.Errorf("window stats: %w", err)
		}
		return buildSummary(timeframe, Period{Start: start, End: now}, stats), nil
	})
	return out, err
}

// Trends fits a least-squares line through hourly averages of the last days.
func (e *Engine) Trends(ctx context.Context, days int) (Trends, error) {
	if days < MinTrendDays || days > MaxTrendDays {
		return Trends{}, ErrDaysOutOfRange
	}

	ctx, span := observability.Tracer("analytics").Start(ctx, "analytics.Trends")
	defer span.End()
	span.SetAttributes(attribute.Int("analytics.days", days))

	var out Trends
	err := e.cached(ctx, fmt.Sprintf("trends:%d", days), &out, func() (any, error) {
		now := domain.Now()
		start := now.AddDate(0, 0, -days)
		buckets, err := e.source.HourlyAverages(ctx, start, maxTrendPoints)
		if err != nil {
			return nil, fmt.Errorf("hourly averages: %w", err)
		}
		return buildTrends(Period{Start: start, End: now, Days: days}, buckets), nil
	})
	return out, err
}

// QualityReport summarizes validation failures, outliers and quality scores
// across all persisted readings.
func (e *Engine) QualityReport(ctx context.Context) (QualityReport, error) {
	ctx, span := observability.Tracer("analytics").Start(ctx, "analytics.QualityReport")
	defer span.End()

	var out QualityReport
	err := e.cached(ctx, "quality", &out, func() (any, error) {
		now := domain.Now()
		snap, err := e.source.QualitySnapshot(ctx, now.Add(-24*time.Hour))
		if err != nil {
			return nil, fmt.Errorf("quality snapshot: %w", err)
		}
		return buildQualityReport(now, snap), nil
	})
	return out, err
}

// Dashboard combines the 24h summary, 7-day trends and the quality report.
func (e *Engine) Dashboard(ctx context.Context) (Dashboard, error) {
	summary, err := e.Summary(ctx, "24h")
	if err != nil {
		return Dashboard{}, err
	}
	trends, err := e.Trends(ctx, 7)
	if err != nil {
		return Dashboard{}, err
	}
	quality, err := e.QualityReport(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	return buildDashboard(summary, trends, quality), nil
}

// cached decodes key from the cache into out, or computes, stores and
// decodes a fresh value. Cache failures degrade to computing.
func (e *Engine) cached(ctx context.Context, key string, out any, compute func() (any, error)) error {
	if e.cache != nil {
		data, ok, err := e.cache.Get(ctx, key)
		switch {
		case err != nil:
			e.metrics.AnalyticsCache.WithLabelValues("error").Inc()
			e.logger.Warn("analytics cache read failed", "key", key, "error", err)
		case ok:
			if err := json.Unmarshal(data, out); err == nil {
				e.metrics.AnalyticsCache.WithLabelValues("hit").Inc()
				return nil
			}
		default:
			e.metrics.AnalyticsCache.WithLabelValues("miss").Inc()
		}
	}

	v, err := compute()
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if e.cache != nil {
		if err := e.cache.Set(ctx, key, data, e.ttl); err != nil {
			e.logger.Warn("analytics cache write failed", "key", key, "error", err)
		}
	}
	return json.Unmarshal(data, out)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round(*v, 2)
	return &r
}
