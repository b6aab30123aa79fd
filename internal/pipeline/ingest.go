package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
	"github.com/couchcryptid/telemetry-quality-etl/internal/observability"
)

// Ingestion outcomes.
const (
	OutcomeAccepted        = "accepted"
	OutcomeAcceptedInvalid = "accepted_invalid"
	OutcomeFallback        = "fallback"
	OutcomeRejected        = "rejected"
)

// Forwarder mirrors accepted readings to the external feed.
type Forwarder interface {
	SendReading(ctx context.Context, temperature, humidity float64) error
}

// Submission is a reading posted by a device. Temperature and humidity keep
// their decoded JSON type until cleaning.
type Submission struct {
	Temperature any    `json:"temperature"`
	Humidity    any    `json:"humidity"`
	DeviceID    string `json:"device_id,omitempty"`
}

// IngestResult is returned for every stored submission.
type IngestResult struct {
	Status     string  `json:"status"`
	DocumentID string  `json:"document_id"`
	ETL        *Result `json:"etl,omitempty"`
	Forwarded  bool    `json:"forwarded"`
}

// Ingestor is the device submission entry point: it cleans the submission,
// runs it through the orchestrator, and falls back to a minimal save when
// the pipeline fails.
type Ingestor struct {
	orchestrator *Orchestrator
	repo         Repository
	forwarder    Forwarder
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// NewIngestor creates an Ingestor. forwarder may be nil.
func NewIngestor(o *Orchestrator, repo Repository, forwarder Forwarder, logger *slog.Logger, metrics *observability.Metrics) *Ingestor {
	return &Ingestor{
		orchestrator: o,
		repo:         repo,
		forwarder:    forwarder,
		logger:       logger,
		metrics:      metrics,
	}
}

// Ingest stores a device submission. Submissions that fail cleaning return an
// error wrapping domain.ErrMalformedReading and nothing is stored. An error is
// also returned if both the pipeline and the fallback save fail.
func (i *Ingestor) Ingest(ctx context.Context, s Submission) (IngestResult, error) {
	temp, hum, err := domain.CleanReading(s.Temperature, s.Humidity)
	if err != nil {
		i.metrics.IngestRequests.WithLabelValues(OutcomeRejected).Inc()
		return IngestResult{}, err
	}

	deviceID := s.DeviceID
	if deviceID == "" {
		deviceID = domain.DefaultDeviceID
	}

	raw := domain.RawReading{
		domain.FieldTemperature: temp,
		domain.FieldHumidity:    hum,
		domain.FieldDeviceID:    deviceID,
		domain.FieldSource:      domain.SourceIoTSensor,
	}

	var out IngestResult
	res := i.orchestrator.Execute(ctx, raw)
	if res.Success {
		out = IngestResult{Status: OutcomeAccepted, DocumentID: res.DocumentID, ETL: &res}
		if !res.IsValid {
			out.Status = OutcomeAcceptedInvalid
		}
	} else {
		i.logger.Warn("pipeline failed, using fallback save", "error", res.Error, "device_id", deviceID)
		id, err := i.saveFallback(ctx, temp, hum, deviceID)
		if err != nil {
			return IngestResult{}, fmt.Errorf("fallback save after pipeline error %q: %w", res.Error, err)
		}
		out = IngestResult{Status: OutcomeFallback, DocumentID: id, ETL: &res}
	}
	i.metrics.IngestRequests.WithLabelValues(out.Status).Inc()

	if i.forwarder != nil {
		if err := i.forwarder.SendReading(ctx, temp, hum); err != nil {
			i.logger.Warn("forward to feed failed", "error", err, "document_id", out.DocumentID)
		} else {
			out.Forwarded = true
		}
	}

	return out, nil
}

func (i *Ingestor) saveFallback(ctx context.Context, temp, hum float64, deviceID string) (string, error) {
	now := domain.Now()
	r := domain.Reading{
		Temperature: &temp,
		Humidity:    &hum,
		DeviceID:    deviceID,
		Source:      domain.SourceFallback,
		RecordedAt:  now,
		LoadedAt:    now,
	}
	id, err := i.repo.Save(ctx, &r)
	if err != nil {
		return "", err
	}
	i.metrics.FallbackSaves.Inc()
	return id, nil
}
