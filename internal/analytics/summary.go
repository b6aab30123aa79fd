package analytics

import (
	"time"

	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
)

const noDataMessage = "No data available for this period"

// Period is the query window.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days,omitempty"`
}

// Range is average, minimum and maximum of a measurement.
type Range struct {
	Average float64 `json:"average"`
	Minimum float64 `json:"minimum"`
	Maximum float64 `json:"maximum"`
}

// Average holds a single mean. It is nil when no reading carried the field.
type Average struct {
	Average *float64 `json:"average"`
}

// WindowQuality describes data quality within an aggregation window.
type WindowQuality struct {
	AverageScore       *float64 `json:"average_score"`
	TotalReadings      int64    `json:"total_readings"`
	OutliersDetected   int64    `json:"outliers_detected"`
	OutlierRatePercent float64  `json:"outlier_rate_percent"`
}

// Summary is the windowed aggregate response. When NoData is set only
// Timeframe, Period and Message are populated.
type Summary struct {
	Timeframe   string         `json:"timeframe"`
	Period      Period         `json:"period"`
	NoData      bool           `json:"no_data"`
	Message     string         `json:"message,omitempty"`
	Temperature *Range         `json:"temperature,omitempty"`
	Humidity    *Range         `json:"humidity,omitempty"`
	HeatIndex   *Average       `json:"heat_index,omitempty"`
	DataQuality *WindowQuality `json:"data_quality,omitempty"`
}

func buildSummary(timeframe string, period Period, s domain.WindowStats) Summary {
	out := Summary{Timeframe: timeframe, Period: period}
	if s.Count == 0 {
		out.NoData = true
		out.Message = noDataMessage
		return out
	}

	out.Temperature = &Range{
		Average: round(s.AvgTemperature, 2),
		Minimum: round(s.MinTemperature, 2),
		Maximum: round(s.MaxTemperature, 2),
	}
	out.Humidity = &Range{
		Average: round(s.AvgHumidity, 2),
		Minimum: round(s.MinHumidity, 2),
		Maximum: round(s.MaxHumidity, 2),
	}
	out.HeatIndex = &Average{Average: roundPtr(s.AvgHeatIndex)}
	out.DataQuality = &WindowQuality{
		AverageScore:       roundPtr(s.AvgQuality),
		TotalReadings:      s.Count,
		OutliersDetected:   s.OutlierCount,
		OutlierRatePercent: round(float64(s.OutlierCount)/float64(s.Count)*100, 2),
	}
	return out
}
