package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
)

// WindowStats aggregates valid readings recorded at or after since.
func (s *Store) WindowStats(ctx context.Context, since time.Time) (domain.WindowStats, error) {
	isOutlier := bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "$eq", Value: bson.A{"$is_temperature_outlier", true}}},
			bson.D{{Key: "$eq", Value: bson.A{"$is_humidity_outlier", true}}},
		}}},
		1, 0,
	}}}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: validSince(since)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "outliers", Value: bson.D{{Key: "$sum", Value: isOutlier}}},
			{Key: "avg_temperature", Value: bson.D{{Key: "$avg", Value: "$temperature"}}},
			{Key: "min_temperature", Value: bson.D{{Key: "$min", Value: "$temperature"}}},
			{Key: "max_temperature", Value: bson.D{{Key: "$max", Value: "$temperature"}}},
			{Key: "avg_humidity", Value: bson.D{{Key: "$avg", Value: "$humidity"}}},
			{Key: "min_humidity", Value: bson.D{{Key: "$min", Value: "$humidity"}}},
			{Key: "max_humidity", Value: bson.D{{Key: "$max", Value: "$humidity"}}},
			{Key: "avg_heat_index", Value: bson.D{{Key: "$avg", Value: "$heat_index"}}},
			{Key: "avg_quality", Value: bson.D{{Key: "$avg", Value: "$data_quality_score"}}},
		}}},
	}

	var rows []struct {
		Count          int64    `bson:"count"`
		Outliers       int64    `bson:"outliers"`
		AvgTemperature *float64 `bson:"avg_temperature"`
		MinTemperature *float64 `bson:"min_temperature"`
		MaxTemperature *float64 `bson:"max_temperature"`
		AvgHumidity    *float64 `bson:"avg_humidity"`
		MinHumidity    *float64 `bson:"min_humidity"`
		MaxHumidity    *float64 `bson:"max_humidity"`
		AvgHeatIndex   *float64 `bson:"avg_heat_index"`
		AvgQuality     *float64 `bson:"avg_quality"`
	}
	if err := s.aggregate(ctx, pipeline, &rows); err != nil {
		return domain.WindowStats{}, fmt.Errorf("aggregate window stats: %w", err)
	}
	if len(rows) == 0 {
		return domain.WindowStats{}, nil
	}

	r := rows[0]
	return domain.WindowStats{
		Count:          r.Count,
		OutlierCount:   r.Outliers,
		AvgTemperature: deref(r.AvgTemperature),
		MinTemperature: deref(r.MinTemperature),
		MaxTemperature: deref(r.MaxTemperature),
		AvgHumidity:    deref(r.AvgHumidity),
		MinHumidity:    deref(r.MinHumidity),
		MaxHumidity:    deref(r.MaxHumidity),
		AvgHeatIndex:   r.AvgHeatIndex,
		AvgQuality:     r.AvgQuality,
	}, nil
}

// HourlyAverages buckets valid readings by UTC hour, oldest first.
func (s *Store) HourlyAverages(ctx context.Context, since time.Time, limit int) ([]domain.HourlyBucket, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: validSince(since)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$dateTrunc", Value: bson.D{
				{Key: "date", Value: "$recorded_at"},
				{Key: "unit", Value: "hour"},
			}}}},
			{Key: "avg_temperature", Value: bson.D{{Key: "$avg", Value: "$temperature"}}},
			{Key: "avg_humidity", Value: bson.D{{Key: "$avg", Value: "$humidity"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
	}

	var rows []struct {
		Hour           time.Time `bson:"_id"`
		AvgTemperature float64   `bson:"avg_temperature"`
		AvgHumidity    float64   `bson:"avg_humidity"`
		Count          int64     `bson:"count"`
	}
	if err := s.aggregate(ctx, pipeline, &rows); err != nil {
		return nil, fmt.Errorf("aggregate hourly averages: %w", err)
	}

	out := make([]domain.HourlyBucket, len(rows))
	for i, r := range rows {
		out[i] = domain.HourlyBucket{
			Hour:           r.Hour.UTC(),
			AvgTemperature: r.AvgTemperature,
			AvgHumidity:    r.AvgHumidity,
			Count:          r.Count,
		}
	}
	return out, nil
}

// QualitySnapshot collects the data quality inputs over the whole collection.
func (s *Store) QualitySnapshot(ctx context.Context, recentSince time.Time) (domain.QualitySnapshot, error) {
	var (
		out domain.QualitySnapshot
		err error
	)

	if out.Total, err = s.readings.CountDocuments(ctx, bson.D{}); err != nil {
		return out, fmt.Errorf("count readings: %w", err)
	}
	recent := bson.D{{Key: "recorded_at", Value: bson.D{{Key: "$gte", Value: recentSince}}}}
	if out.Recent, err = s.readings.CountDocuments(ctx, recent); err != nil {
		return out, fmt.Errorf("count recent readings: %w", err)
	}
	if out.TemperatureOutlier, err = s.readings.CountDocuments(ctx, bson.D{{Key: "is_temperature_outlier", Value: true}}); err != nil {
		return out, fmt.Errorf("count temperature outliers: %w", err)
	}
	if out.HumidityOutlier, err = s.readings.CountDocuments(ctx, bson.D{{Key: "is_humidity_outlier", Value: true}}); err != nil {
		return out, fmt.Errorf("count humidity outliers: %w", err)
	}

	if out.ErrorBuckets, err = s.errorBuckets(ctx); err != nil {
		return out, err
	}
	if out.Scores, err = s.scoreStats(ctx); err != nil {
		return out, err
	}
	return out, nil
}

func (s *Store) errorBuckets(ctx context.Context) ([]domain.ErrorBucket, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "validation.is_valid", Value: false}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$validation.errors"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}

	var rows []struct {
		Errors []string `bson:"_id"`
		Count  int64    `bson:"count"`
	}
	if err := s.aggregate(ctx, pipeline, &rows); err != nil {
		return nil, fmt.Errorf("aggregate validation errors: %w", err)
	}

	out := make([]domain.ErrorBucket, len(rows))
	for i, r := range rows {
		out[i] = domain.ErrorBucket{Errors: r.Errors, Count: r.Count}
	}
	return out, nil
}

func (s *Store) scoreStats(ctx context.Context) (*domain.ScoreStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "data_quality_score", Value: bson.D{{Key: "$exists", Value: true}}}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "avg", Value: bson.D{{Key: "$avg", Value: "$data_quality_score"}}},
			{Key: "min", Value: bson.D{{Key: "$min", Value: "$data_quality_score"}}},
			{Key: "max", Value: bson.D{{Key: "$max", Value: "$data_quality_score"}}},
		}}},
	}

	var rows []struct {
		Avg float64 `bson:"avg"`
		Min float64 `bson:"min"`
		Max float64 `bson:"max"`
	}
	if err := s.aggregate(ctx, pipeline, &rows); err != nil {
		return nil, fmt.Errorf("aggregate quality scores: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &domain.ScoreStats{Average: rows[0].Avg, Minimum: rows[0].Min, Maximum: rows[0].Max}, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
