// Package memory provides in-process implementations of the reading store,
// the consumer cursor and the analytics cache, for local runs and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
)

// Store keeps readings and the consumer cursor in memory. It is safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	readings []domain.Reading // insertion order
	cursor   *domain.Cursor
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Save appends r under a new UUID.
func (s *Store) Save(_ context.Context, r *domain.Reading) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := *r
	doc.ID = uuid.NewString()
	s.readings = append(s.readings, doc)
	return doc.ID, nil
}

// FindRecent returns up to limit readings, most recently saved first.
func (s *Store) FindRecent(_ context.Context, limit int) ([]domain.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit > len(s.readings) {
		limit = len(s.readings)
	}
	out := make([]domain.Reading, 0, limit)
	for i := len(s.readings) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.readings[i])
	}
	return out, nil
}

// Count returns the number of stored readings.
func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.readings)), nil
}

// GetCursor returns the last processed feed entry id, 0 if none was saved.
func (s *Store) GetCursor(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cursor == nil {
		return 0, nil
	}
	return s.cursor.LastEntryID, nil
}

// SaveCursor upserts the consumer cursor.
func (s *Store) SaveCursor(_ context.Context, lastEntryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = &domain.Cursor{LastEntryID: lastEntryID, UpdatedAt: domain.Now()}
	return nil
}

// CheckReadiness always succeeds.
func (s *Store) CheckReadiness(context.Context) error {
	return nil
}

// WindowStats aggregates valid readings recorded at or after since.
func (s *Store) WindowStats(_ context.Context, since time.Time) (domain.WindowStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		out           domain.WindowStats
		temps, hums   agg
		heat, quality agg
	)
	for _, r := range s.readings {
		if !r.IsValid() || r.RecordedAt.Before(since) {
			continue
		}
		out.Count++
		if isTrue(r.IsTemperatureOutlier) || isTrue(r.IsHumidityOutlier) {
			out.OutlierCount++
		}
		temps.add(r.Temperature)
		hums.add(r.Humidity)
		heat.add(r.HeatIndex)
		quality.add(r.DataQualityScore)
	}

	out.AvgTemperature, out.MinTemperature, out.MaxTemperature = temps.avg(), temps.min, temps.max
	out.AvgHumidity, out.MinHumidity, out.MaxHumidity = hums.avg(), hums.min, hums.max
	out.AvgHeatIndex = heat.avgPtr()
	out.AvgQuality = quality.avgPtr()
	return out, nil
}

// HourlyAverages buckets valid readings recorded at or after since by UTC
// hour and returns up to limit buckets, oldest first.
func (s *Store) HourlyAverages(_ context.Context, since time.Time, limit int) ([]domain.HourlyBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type hourAgg struct{ temps, hums agg }
	byHour := make(map[time.Time]*hourAgg)
	for _, r := range s.readings {
		if !r.IsValid() || r.RecordedAt.Before(since) {
			continue
		}
		hour := r.RecordedAt.UTC().Truncate(time.Hour)
		a, ok := byHour[hour]
		if !ok {
			a = &hourAgg{}
			byHour[hour] = a
		}
		a.temps.add(r.Temperature)
		a.hums.add(r.Humidity)
	}

	out := make([]domain.HourlyBucket, 0, len(byHour))
	for hour, a := range byHour {
		out = append(out, domain.HourlyBucket{
			Hour:           hour,
			AvgTemperature: a.temps.avg(),
			AvgHumidity:    a.hums.avg(),
			Count:          max(a.temps.n, a.hums.n),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour.Before(out[j].Hour) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// QualitySnapshot computes the data quality inputs over every stored reading.
func (s *Store) QualitySnapshot(_ context.Context, recentSince time.Time) (domain.QualitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := domain.QualitySnapshot{Total: int64(len(s.readings))}
	buckets := make(map[string]*domain.ErrorBucket)
	var scores agg

	for _, r := range s.readings {
		if !r.RecordedAt.Before(recentSince) {
			out.Recent++
		}
		if r.Validation != nil && !r.Validation.IsValid {
			key := strings.Join(r.Validation.Errors, "\x00")
			b, ok := buckets[key]
			if !ok {
				b = &domain.ErrorBucket{Errors: r.Validation.Errors}
				buckets[key] = b
			}
			b.Count++
		}
		if isTrue(r.IsTemperatureOutlier) {
			out.TemperatureOutlier++
		}
		if isTrue(r.IsHumidityOutlier) {
			out.HumidityOutlier++
		}
		scores.add(r.DataQualityScore)
	}

	for _, b := range buckets {
		out.ErrorBuckets = append(out.ErrorBuckets, *b)
	}
	sort.Slice(out.ErrorBuckets, func(i, j int) bool {
		a, b := out.ErrorBuckets[i], out.ErrorBuckets[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return strings.Join(a.Errors, ",") < strings.Join(b.Errors, ",")
	})

	if scores.n > 0 {
		out.Scores = &domain.ScoreStats{Average: scores.avg(), Minimum: scores.min, Maximum: scores.max}
	}
	return out, nil
}

// agg accumulates count, sum, min and max, skipping nil values.
type agg struct {
	n        int64
	sum      float64
	min, max float64
}

func (a *agg) add(v *float64) {
	if v == nil {
		return
	}
	if a.n == 0 || *v < a.min {
		a.min = *v
	}
	if a.n == 0 || *v > a.max {
		a.max = *v
	}
	a.n++
	a.sum += *v
}

func (a *agg) avg() float64 {
	if a.n == 0 {
		return 0
	}
	return a.sum / float64(a.n)
}

func (a *agg) avgPtr() *float64 {
	if a.n == 0 {
		return nil
	}
	v := a.avg()
	return &v
}

func isTrue(b *bool) bool {
	return b != nil && *b
}
