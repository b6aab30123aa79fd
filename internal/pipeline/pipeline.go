package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
	"github.com/couchcryptid/telemetry-quality-etl/internal/observability"
)

// Validator checks a raw reading and reports errors and warnings.
type Validator interface {
	Validate(raw domain.RawReading) domain.Validation
}

// Enricher derives metrics for a reading that already carries a validation record.
type Enricher interface {
	Enrich(r domain.Reading) domain.Reading
}

// Repository persists readings and returns the most recent ones.
type Repository interface {
	// Save stores r and returns its generated identifier.
	Save(ctx context.Context, r *domain.Reading) (string, error)
	// FindRecent returns up to limit readings, newest first.
	FindRecent(ctx context.Context, limit int) ([]domain.Reading, error)
}

// Publisher forwards loaded readings to a downstream sink.
type Publisher interface {
	Publish(ctx context.Context, r domain.Reading) error
}

// OutlierFlags reports the outcome of outlier detection. Fields not evaluated
// for lack of history are false.
type OutlierFlags struct {
	Temperature bool `json:"temperature"`
	Humidity    bool `json:"humidity"`
}

// ProcessedFields reports which enrichment fields were produced.
type ProcessedFields struct {
	HeatIndex    bool `json:"heat_index"`
	DewPoint     bool `json:"dew_point"`
	ComfortLevel bool `json:"comfort_level"`
}

// Result is the outcome of one Execute call. On failure only Success and
// Error are meaningful.
type Result struct {
	Success         bool            `json:"success"`
	DocumentID      string          `json:"document_id,omitempty"`
	Error           string          `json:"error,omitempty"`
	QualityScore    float64         `json:"data_quality_score"`
	IsValid         bool            `json:"is_valid"`
	Outliers        OutlierFlags    `json:"outliers_detected"`
	ProcessedFields ProcessedFields `json:"processed_fields"`
}

// Orchestrator runs readings through extract, transform and load.
type Orchestrator struct {
	validator Validator
	enricher  Enricher
	repo      Repository
	publisher Publisher
	stats     *SessionStats
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates an Orchestrator. publisher may be nil.
func New(v Validator, e Enricher, repo Repository, publisher Publisher, stats *SessionStats, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		validator: v,
		enricher:  e,
		repo:      repo,
		publisher: publisher,
		stats:     stats,
		logger:    logger,
		metrics:   metrics,
	}
}

// Stats returns the session counters the orchestrator updates.
func (o *Orchestrator) Stats() *SessionStats {
	return o.stats
}

// Extract builds a reading from raw input and stamps extracted_at. Raw input
// without a source tag is treated as a device submission.
func (o *Orchestrator) Extract(raw domain.RawReading) domain.Reading {
	r := domain.NewReading(raw)
	if r.Source == "" {
		r.Source = domain.SourceIoTSensor
	}
	r.ExtractedAt = domain.Now()

	o.logger.Debug("reading extracted", "device_id", r.DeviceID, "source", r.Source)
	return r
}

// Transform validates the reading, flags outliers against the most recent
// persisted window, and enriches it if valid. Invalid readings keep their
// validation and outlier fields and get a quality score, nothing more.
func (o *Orchestrator) Transform(ctx context.Context, r domain.Reading) (domain.Reading, error) {
	v := o.validator.Validate(r.Raw())
	r.Validation = &v

	window, err := o.repo.FindRecent(ctx, domain.OutlierWindowSize)
	if err != nil {
		return r, fmt.Errorf("load outlier window: %w", err)
	}
	detector := domain.NewOutlierDetector(window)
	detector.Flag(&r)

	if isTrue(r.IsTemperatureOutlier) {
		o.stats.outliers.Add(1)
		o.metrics.OutliersFlagged.WithLabelValues("temperature").Inc()
		o.logger.Warn("temperature outlier detected", "temperature", *r.Temperature, "device_id", r.DeviceID)
	}
	if isTrue(r.IsHumidityOutlier) {
		o.stats.outliers.Add(1)
		o.metrics.OutliersFlagged.WithLabelValues("humidity").Inc()
		o.logger.Warn("humidity outlier detected", "humidity", *r.Humidity, "device_id", r.DeviceID)
	}

	if v.IsValid {
		r = o.enricher.Enrich(r)
		o.stats.valid.Add(1)
		o.metrics.ReadingsProcessed.WithLabelValues("valid").Inc()
		return r, nil
	}

	score := domain.QualityScore(r)
	r.DataQualityScore = &score
	o.stats.invalid.Add(1)
	o.metrics.ReadingsProcessed.WithLabelValues("invalid").Inc()
	o.logger.Warn("invalid reading", "errors", v.Errors, "device_id", r.DeviceID)
	return r, nil
}

// Load stamps loaded_at and recorded_at, persists the reading and publishes it
// to the sink if one is configured. Publish failures are logged, not returned.
func (o *Orchestrator) Load(ctx context.Context, r *domain.Reading) (string, error) {
	now := domain.Now()
	r.LoadedAt = now
	r.RecordedAt = now

	id, err := o.repo.Save(ctx, r)
	if err != nil {
		return "", fmt.Errorf("save reading: %w", err)
	}
	r.ID = id

	if o.publisher != nil {
		if err := o.publisher.Publish(ctx, *r); err != nil {
			o.logger.Warn("publish reading failed", "error", err, "document_id", id)
		}
	}

	o.logger.Debug("reading loaded", "document_id", id)
	return id, nil
}

// Execute runs Extract, Transform and Load for one raw reading. It never
// panics; any failure is reported in the returned Result.
func (o *Orchestrator) Execute(ctx context.Context, raw domain.RawReading) (res Result) {
	ctx, span := observability.Tracer("pipeline").Start(ctx, "pipeline.Execute")
	defer span.End()

	start := time.Now()
	o.stats.processed.Add(1)

	defer func() {
		if p := recover(); p != nil {
			res = o.fail(fmt.Errorf("panic: %v", p))
		}
		if !res.Success {
			span.SetStatus(codes.Error, res.Error)
		}
		o.metrics.ETLDuration.Observe(time.Since(start).Seconds())
	}()

	r := o.Extract(raw)
	span.SetAttributes(
		attribute.String("reading.source", r.Source),
		attribute.String("reading.device_id", r.DeviceID),
	)

	r, err := o.Transform(ctx, r)
	if err != nil {
		return o.fail(err)
	}

	id, err := o.Load(ctx, &r)
	if err != nil {
		return o.fail(err)
	}

	res = resultFor(r)
	res.DocumentID = id
	span.SetAttributes(
		attribute.String("reading.id", id),
		attribute.Bool("reading.valid", res.IsValid),
	)
	o.logger.Info("reading processed",
		"document_id", id,
		"source", r.Source,
		"valid", res.IsValid,
		"quality_score", res.QualityScore,
	)
	return res
}

func (o *Orchestrator) fail(err error) Result {
	o.metrics.ReadingsProcessed.WithLabelValues("failed").Inc()
	o.logger.Error("etl execution failed", "error", err)
	return Result{Success: false, Error: err.Error()}
}

func resultFor(r domain.Reading) Result {
	res := Result{
		Success: true,
		IsValid: r.IsValid(),
		Outliers: OutlierFlags{
			Temperature: isTrue(r.IsTemperatureOutlier),
			Humidity:    isTrue(r.IsHumidityOutlier),
		},
		ProcessedFields: ProcessedFields{
			HeatIndex:    r.HeatIndex != nil,
			DewPoint:     r.DewPoint != nil,
			ComfortLevel: r.ComfortLevel != "",
		},
	}
	if r.DataQualityScore != nil {
		res.QualityScore = *r.DataQualityScore
	}
	return res
}

func isTrue(b *bool) bool {
	return b != nil && *b
}
