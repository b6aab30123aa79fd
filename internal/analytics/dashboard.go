package analytics

import "time"

// CurrentMetrics are the last 24 hours' aggregates.
type CurrentMetrics struct {
	Temperature      *Range   `json:"temperature,omitempty"`
	Humidity         *Range   `json:"humidity,omitempty"`
	HeatIndex        *Average `json:"heat_index,omitempty"`
	DataQualityScore *float64 `json:"data_quality_score"`
}

// DashboardTrends are the 7-day trends; nil with insufficient data.
type DashboardTrends struct {
	Temperature *Trend `json:"temperature,omitempty"`
	Humidity    *Trend `json:"humidity,omitempty"`
}

// Alerts surface the quality report's warnings.
type Alerts struct {
	OutliersDetected int64    `json:"outliers_detected"`
	DataFreshness    string   `json:"data_freshness"`
	Recommendations  []string `json:"recommendations"`
}

// DashboardSummary holds headline counts.
type DashboardSummary struct {
	TotalReadings     int64   `json:"total_readings"`
	RecentReadings24h int64   `json:"recent_readings_24h"`
	OutlierRate       float64 `json:"outlier_rate"`
}

// Dashboard is the combined response for the main dashboard.
type Dashboard struct {
	GeneratedAt    time.Time        `json:"dashboard_generated_at"`
	CurrentMetrics CurrentMetrics   `json:"current_metrics"`
	Trends         DashboardTrends  `json:"trends"`
	Alerts         Alerts           `json:"alerts"`
	Summary        DashboardSummary `json:"summary"`
}

func buildDashboard(s Summary, t Trends, q QualityReport) Dashboard {
	d := Dashboard{
		GeneratedAt: s.Period.End,
		CurrentMetrics: CurrentMetrics{
			Temperature: s.Temperature,
			Humidity:    s.Humidity,
			HeatIndex:   s.HeatIndex,
		},
		Trends: DashboardTrends{
			Temperature: t.Temperature,
			Humidity:    t.Humidity,
		},
		Alerts: Alerts{
			OutliersDetected: q.Outliers.Total,
			DataFreshness:    q.Overview.DataFreshness,
			Recommendations:  q.Recommendations,
		},
		Summary: DashboardSummary{
			TotalReadings:     q.Overview.TotalReadings,
			RecentReadings24h: q.Overview.RecentReadings24h,
		},
	}
	if s.DataQuality != nil {
		d.CurrentMetrics.DataQualityScore = s.DataQuality.AverageScore
		d.Summary.OutlierRate = s.DataQuality.OutlierRatePercent
	}
	return d
}
