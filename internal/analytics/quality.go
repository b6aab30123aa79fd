package analytics

import (
	"time"

	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
)

// Data freshness labels.
const (
	FreshnessGood  = "good"
	FreshnessStale = "stale"
)

const (
	lowQualityScore   = 70.0
	maxInvalidBuckets = 10
	maxOutliers       = 50
	commonErrorsShown = 5
)

// Recommendations issued by the quality report.
const (
	RecommendCalibration  = "Data quality is below acceptable levels. Consider reviewing sensor calibration."
	RecommendConnectivity = "High number of validation errors detected. Check sensor connectivity and data transmission."
	RecommendPlacement    = "Frequent outliers detected. Verify sensor placement and environmental factors."
	RecommendNone         = "Data quality is good. Continue monitoring for optimal performance."
)

// Overview counts stored readings.
type Overview struct {
	TotalReadings     int64  `json:"total_readings"`
	RecentReadings24h int64  `json:"recent_readings_24h"`
	DataFreshness     string `json:"data_freshness"`
}

// ValidationIssues groups invalid readings by their error list.
// InvalidRecords is the number of distinct error lists, not of readings.
type ValidationIssues struct {
	InvalidRecords int                  `json:"invalid_records"`
	CommonErrors   []domain.ErrorBucket `json:"common_errors"`
}

// OutlierTotals counts readings flagged as outliers, per field.
type OutlierTotals struct {
	Temperature int64 `json:"temperature_outliers"`
	Humidity    int64 `json:"humidity_outliers"`
	Total       int64 `json:"total_outliers"`
}

// QualityReport is the data quality response. DataQuality is nil when no
// reading carries a quality score.
type QualityReport struct {
	GeneratedAt      time.Time          `json:"generated_at"`
	NoData           bool               `json:"no_data"`
	Overview         Overview           `json:"overview"`
	DataQuality      *domain.ScoreStats `json:"data_quality"`
	ValidationIssues ValidationIssues   `json:"validation_issues"`
	Outliers         OutlierTotals      `json:"outliers"`
	Recommendations  []string           `json:"recommendations"`
}

func buildQualityReport(now time.Time, s domain.QualitySnapshot) QualityReport {
	freshness := FreshnessStale
	if s.Recent > 0 {
		freshness = FreshnessGood
	}

	common := s.ErrorBuckets
	if len(common) > commonErrorsShown {
		common = common[:commonErrorsShown]
	}
	if common == nil {
		common = []domain.ErrorBucket{}
	}

	var scores *domain.ScoreStats
	if s.Scores != nil {
		scores = &domain.ScoreStats{
			Average: round(s.Scores.Average, 2),
			Minimum: round(s.Scores.Minimum, 2),
			Maximum: round(s.Scores.Maximum, 2),
		}
	}

	outliers := OutlierTotals{
		Temperature: s.TemperatureOutlier,
		Humidity:    s.HumidityOutlier,
		Total:       s.TemperatureOutlier + s.HumidityOutlier,
	}

	return QualityReport{
		GeneratedAt: now,
		NoData:      s.Total == 0,
		Overview: Overview{
			TotalReadings:     s.Total,
			RecentReadings24h: s.Recent,
			DataFreshness:     freshness,
		},
		DataQuality: scores,
		ValidationIssues: ValidationIssues{
			InvalidRecords: len(s.ErrorBuckets),
			CommonErrors:   common,
		},
		Outliers:        outliers,
		Recommendations: recommend(scores, len(s.ErrorBuckets), outliers.Total),
	}
}

// recommend applies the report heuristics. Missing scores count as good.
func recommend(scores *domain.ScoreStats, invalidBuckets int, outliers int64) []string {
	var out []string
	if scores != nil && scores.Average < lowQualityScore {
		out = append(out, RecommendCalibration)
	}
	if invalidBuckets > maxInvalidBuckets {
		out = append(out, RecommendConnectivity)
	}
	if outliers > maxOutliers {
		out = append(out, RecommendPlacement)
	}
	if len(out) == 0 {
		out = append(out, RecommendNone)
	}
	return out
}
