package domain

import "time"

// WindowStats are raw aggregates over valid readings in a time window, as
// computed by the store. Averages over fields absent from every reading are nil.
type WindowStats struct {
	Count          int64
	OutlierCount   int64
	AvgTemperature float64
	MinTemperature float64
	MaxTemperature float64
	AvgHumidity    float64
	MinHumidity    float64
	MaxHumidity    float64
	AvgHeatIndex   *float64
	AvgQuality     *float64
}

// HourlyBucket averages valid readings recorded within one UTC hour.
type HourlyBucket struct {
	Hour           time.Time `json:"hour"`
	AvgTemperature float64   `json:"avg_temperature"`
	AvgHumidity    float64   `json:"avg_humidity"`
	Count          int64     `json:"readings_count"`
}

// ErrorBucket counts invalid readings sharing the same ordered error list.
type ErrorBucket struct {
	Errors []string `json:"errors"`
	Count  int64    `json:"count"`
}

// ScoreStats summarizes data quality scores.
type ScoreStats struct {
	Average float64 `json:"average_score"`
	Minimum float64 `json:"minimum_score"`
	Maximum float64 `json:"maximum_score"`
}

// QualitySnapshot is the store-side input to the data quality report.
// ErrorBuckets is sorted by descending count.
type QualitySnapshot struct {
	Total              int64
	Recent             int64
	ErrorBuckets       []ErrorBucket
	TemperatureOutlier int64
	HumidityOutlier    int64
	Scores             *ScoreStats
}
