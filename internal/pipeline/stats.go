package pipeline

import "sync/atomic"

// SessionStats accumulates pipeline counters for the life of the process.
// It is safe for concurrent use by any number of Execute calls.
type SessionStats struct {
	processed atomic.Int64
	valid     atomic.Int64
	invalid   atomic.Int64
	outliers  atomic.Int64
}

// StatsSnapshot is a point-in-time copy of SessionStats with derived rates.
type StatsSnapshot struct {
	Processed   int64   `json:"processed"`
	Valid       int64   `json:"valid"`
	Invalid     int64   `json:"invalid"`
	Outliers    int64   `json:"outliers"`
	SuccessRate float64 `json:"success_rate"`
	OutlierRate float64 `json:"outlier_rate"`
}

// NewSessionStats returns zeroed counters.
func NewSessionStats() *SessionStats {
	return &SessionStats{}
}

// Snapshot reads the counters. Rates are percentages of processed and are 0
// until something has been processed.
func (s *SessionStats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Processed: s.processed.Load(),
		Valid:     s.valid.Load(),
		Invalid:   s.invalid.Load(),
		Outliers:  s.outliers.Load(),
	}
	if snap.Processed > 0 {
		snap.SuccessRate = float64(snap.Valid) / float64(snap.Processed) * 100
		snap.OutlierRate = float64(snap.Outliers) / float64(snap.Processed) * 100
	}
	return snap
}
