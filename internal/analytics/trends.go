package analytics

import (
	"fmt"
	"math"

	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
)

// Trend directions.
const (
	DirectionIncreasing = "increasing"
	DirectionDecreasing = "decreasing"
	DirectionStable     = "stable"
)

const (
	stableSlope   = 0.1
	slightSlope   = 0.5
	moderateSlope = 1.0
)

const insufficientDataMessage = "Insufficient data for trend analysis"

// Trend is the fitted direction of one measurement.
type Trend struct {
	Direction      string  `json:"direction"`
	Slope          float64 `json:"slope"`
	Interpretation string  `json:"interpretation"`
}

// Trends is the trend response. With fewer than two hourly buckets NoData
// is set and no trend is computed.
type Trends struct {
	Period      Period `json:"period"`
	NoData      bool   `json:"no_data"`
	Message     string `json:"message,omitempty"`
	DataPoints  int    `json:"data_points"`
	Temperature *Trend `json:"temperature_trend,omitempty"`
	Humidity    *Trend `json:"humidity_trend,omitempty"`
}

func buildTrends(period Period, buckets []domain.HourlyBucket) Trends {
	out := Trends{Period: period, DataPoints: len(buckets)}
	if len(buckets) < 2 {
		out.NoData = true
		out.Message = insufficientDataMessage
		return out
	}

	temps := make([]float64, len(buckets))
	hums := make([]float64, len(buckets))
	for i, b := range buckets {
		temps[i] = b.AvgTemperature
		hums[i] = b.AvgHumidity
	}
	out.Temperature = fitTrend(temps, "temperature")
	out.Humidity = fitTrend(hums, "humidity")
	return out
}

func fitTrend(values []float64, metric string) *Trend {
	slope := Slope(values)
	return &Trend{
		Direction:      Direction(slope),
		Slope:          round(slope, 4),
		Interpretation: Interpret(slope, metric),
	}
}

// Slope is the ordinary least-squares slope of values against their index.
// It is 0 for fewer than two values.
func Slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	return (n*sumXY - sumX*sumY) / (n*sumX2 - sumX*sumX)
}

// Direction classifies a slope.
func Direction(slope float64) string {
	switch {
	case math.Abs(slope) < stableSlope:
		return DirectionStable
	case slope > 0:
		return DirectionIncreasing
	default:
		return DirectionDecreasing
	}
}

// Interpret describes a slope in words, e.g. "humidity is slightly decreasing".
func Interpret(slope float64, metric string) string {
	dir := Direction(slope)
	if dir == DirectionStable {
		return metric + " remains stable"
	}

	var magnitude string
	switch abs := math.Abs(slope); {
	case abs < slightSlope:
		magnitude = "slightly"
	case abs < moderateSlope:
		magnitude = "moderately"
	default:
		magnitude = "significantly"
	}
	return fmt.Sprintf("%s is %s %s", metric, magnitude, dir)
}
