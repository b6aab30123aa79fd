// Package replay runs a fixture of raw readings through the full pipeline
// against an in-memory store at a fixed clock, so fixtures produce the same
// results on every run.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/telemetry-quality-etl/internal/adapter/memory"
	"github.com/couchcryptid/telemetry-quality-etl/internal/analytics"
	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
	"github.com/couchcryptid/telemetry-quality-etl/internal/observability"
	"github.com/couchcryptid/telemetry-quality-etl/internal/pipeline"
)

// StartTime is the clock reading of the first replayed reading. Each
// following reading is one Step later.
var StartTime = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// Step separates consecutive replayed readings.
const Step = time.Minute

// Record pairs a fixture input with its pipeline result.
type Record struct {
	Index  int               `json:"index"`
	Input  domain.RawReading `json:"input"`
	Result pipeline.Result   `json:"result"`
}

// Report is the outcome of replaying a fixture.
type Report struct {
	Records []Record                `json:"records"`
	Stats   pipeline.StatsSnapshot  `json:"stats"`
	Quality analytics.QualityReport `json:"quality"`
}

// LoadFixture reads a JSON array of raw reading objects. Numbers are kept as
// json.Number so integers and floats survive unchanged.
func LoadFixture(path string) ([]domain.RawReading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return DecodeFixture(f)
}

// DecodeFixture decodes a fixture from r.
func DecodeFixture(r io.Reader) ([]domain.RawReading, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raws []domain.RawReading
	if err := dec.Decode(&raws); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return raws, nil
}

// Run replays raws in order. It swaps the domain clock for the duration of
// the call, so it must not run concurrently with other pipeline work.
func Run(ctx context.Context, raws []domain.RawReading, logger *slog.Logger) (Report, error) {
	clock := clockwork.NewFakeClockAt(StartTime)
	domain.SetClock(clock)
	defer domain.SetClock(nil)

	metrics := observability.NewMetricsForTesting()
	store := memory.NewStore()
	stats := pipeline.NewSessionStats()
	orch := pipeline.New(pipeline.RuleValidator{}, pipeline.ReadingEnricher{}, store, nil, stats, logger, metrics)

	report := Report{Records: make([]Record, 0, len(raws))}
	for i, raw := range raws {
		if i > 0 {
			clock.Advance(Step)
		}
		res := orch.Execute(ctx, raw)
		report.Records = append(report.Records, Record{Index: i, Input: raw, Result: res})
	}
	report.Stats = stats.Snapshot()

	engine := analytics.NewEngine(store, nil, 0, logger, metrics)
	quality, err := engine.QualityReport(ctx)
	if err != nil {
		return report, fmt.Errorf("quality report: %w", err)
	}
	report.Quality = quality
	return report, nil
}
