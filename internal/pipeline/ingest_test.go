package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
	"github.com/couchcryptid/telemetry-quality-etl/internal/observability"
	"github.com/couchcryptid/telemetry-quality-etl/internal/pipeline"
)

type mockForwarder struct {
	sent [][2]float64
	err  error
}

func (m *mockForwarder) SendReading(_ context.Context, temperature, humidity float64) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, [2]float64{temperature, humidity})
	return nil
}

// flakyRepo fails the pipeline's window query but accepts direct saves.
type flakyRepo struct {
	mockRepo
}

func (f *flakyRepo) FindRecent(context.Context, int) ([]domain.Reading, error) {
	return nil, errors.New("window unavailable")
}

func newTestIngestor(repo pipeline.Repository, fwd pipeline.Forwarder) (*pipeline.Ingestor, *observability.Metrics) {
	o, metrics := newTestOrchestrator(repo, nil)
	return pipeline.NewIngestor(o, repo, fwd, slog.Default(), metrics), metrics
}

func TestIngest_Accepted(t *testing.T) {
	repo := &mockRepo{}
	fwd := &mockForwarder{}
	ing, metrics := newTestIngestor(repo, fwd)

	out, err := ing.Ingest(context.Background(), pipeline.Submission{
		Temperature: 23.456,
		Humidity:    "55",
		DeviceID:    "esp32-lab",
	})

	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeAccepted, out.Status)
	assert.Equal(t, "doc-1", out.DocumentID)
	require.NotNil(t, out.ETL)
	assert.True(t, out.ETL.IsValid)
	assert.True(t, out.Forwarded)
	assert.Equal(t, [][2]float64{{23.46, 55}}, fwd.sent)

	saved := repo.last()
	assert.Equal(t, "esp32-lab", saved.DeviceID)
	assert.Equal(t, 23.46, *saved.Temperature)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IngestRequests.WithLabelValues(pipeline.OutcomeAccepted)))
}

func TestIngest_DefaultDeviceID(t *testing.T) {
	repo := &mockRepo{}
	ing, _ := newTestIngestor(repo, nil)

	out, err := ing.Ingest(context.Background(), pipeline.Submission{Temperature: 20.0, Humidity: 40.0})

	require.NoError(t, err)
	assert.False(t, out.Forwarded)
	assert.Equal(t, domain.DefaultDeviceID, repo.last().DeviceID)
}

func TestIngest_Rejected(t *testing.T) {
	repo := &mockRepo{}
	ing, metrics := newTestIngestor(repo, nil)

	_, err := ing.Ingest(context.Background(), pipeline.Submission{Temperature: "n/a", Humidity: 40.0})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedReading)
	assert.Empty(t, repo.saved)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IngestRequests.WithLabelValues(pipeline.OutcomeRejected)))
}

func TestIngest_Fallback(t *testing.T) {
	repo := &flakyRepo{}
	ing, metrics := newTestIngestor(repo, nil)

	out, err := ing.Ingest(context.Background(), pipeline.Submission{Temperature: 21.0, Humidity: 45.0})

	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeFallback, out.Status)
	assert.Equal(t, "doc-1", out.DocumentID)
	require.NotNil(t, out.ETL)
	assert.False(t, out.ETL.Success)

	saved := repo.last()
	assert.Equal(t, domain.SourceFallback, saved.Source)
	assert.Nil(t, saved.Validation)
	assert.Nil(t, saved.HeatIndex)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FallbackSaves))
}

func TestIngest_FallbackFails(t *testing.T) {
	repo := &mockRepo{saveErr: errors.New("disk full")}
	ing, _ := newTestIngestor(repo, nil)

	_, err := ing.Ingest(context.Background(), pipeline.Submission{Temperature: 21.0, Humidity: 45.0})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NotErrorIs(t, err, domain.ErrMalformedReading)
}

func TestIngest_ForwardFailureIgnored(t *testing.T) {
	ing, _ := newTestIngestor(&mockRepo{}, &mockForwarder{err: errors.New("rate limited")})

	out, err := ing.Ingest(context.Background(), pipeline.Submission{Temperature: 21.0, Humidity: 45.0})

	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeAccepted, out.Status)
	assert.False(t, out.Forwarded)
}
