package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/telemetry-quality-etl/internal/adapter/http"
	"github.com/couchcryptid/telemetry-quality-etl/internal/adapter/memory"
	"github.com/couchcryptid/telemetry-quality-etl/internal/analytics"
	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
	"github.com/couchcryptid/telemetry-quality-etl/internal/observability"
	"github.com/couchcryptid/telemetry-quality-etl/internal/pipeline"
	"github.com/couchcryptid/telemetry-quality-etl/internal/poller"
)

const testAPIKey = "device-secret"

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockConsumer struct {
	running     bool
	interval    time.Duration
	startCtx    context.Context
	syncResults int
	syncErr     error
	startErr    error
}

func (c *mockConsumer) Start(ctx context.Context, interval time.Duration) (*poller.Handle, error) {
	if c.startErr != nil {
		return nil, c.startErr
	}
	if c.running {
		return nil, poller.ErrAlreadyRunning
	}
	c.running = true
	c.interval = interval
	c.startCtx = ctx
	return &poller.Handle{}, nil
}

func (c *mockConsumer) Stop() error {
	if !c.running {
		return poller.ErrNotRunning
	}
	c.running = false
	return nil
}

func (c *mockConsumer) Status() poller.Status {
	return poller.Status{Running: c.running, LastProcessedEntryID: 110}
}

func (c *mockConsumer) ManualSync(_ context.Context, results int) (poller.SyncReport, error) {
	c.syncResults = results
	if c.syncErr != nil {
		return poller.SyncReport{}, c.syncErr
	}
	return poller.SyncReport{Status: poller.SyncSuccess, TotalFetched: results, Processed: results, Errors: []string{}}, nil
}

type testEnv struct {
	srv      *httpadapter.Server
	store    *memory.Store
	stats    *pipeline.SessionStats
	consumer *mockConsumer
}

type ctxKey struct{}

func newTestEnv(t *testing.T, readyErr error, withConsumer bool) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()

	store := memory.NewStore()
	stats := pipeline.NewSessionStats()
	orch := pipeline.New(pipeline.RuleValidator{}, pipeline.ReadingEnricher{}, store, nil, stats, logger, metrics)
	ingestor := pipeline.NewIngestor(orch, store, nil, logger, metrics)
	engine := analytics.NewEngine(store, nil, time.Minute, logger, metrics)

	env := &testEnv{store: store, stats: stats}
	deps := httpadapter.Deps{
		Ingestor:    ingestor,
		Readings:    store,
		Analytics:   engine,
		Stats:       stats,
		IoTAPIKey:   testAPIKey,
		LoopContext: context.WithValue(context.Background(), ctxKey{}, "loop"),
	}
	if withConsumer {
		env.consumer = &mockConsumer{}
		deps.Consumer = env.consumer
	}
	env.srv = httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, deps, logger)
	return env
}

func (e *testEnv) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) ingest(body string) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, "/api/sensors/ingest", body, map[string]string{httpadapter.APIKeyHeader: testAPIKey})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthzReturns200(t *testing.T) {
	env := newTestEnv(t, nil, false)
	rec := env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	assert.Equal(t, http.StatusOK, newTestEnv(t, nil, false).do(http.MethodGet, "/readyz", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		newTestEnv(t, fmt.Errorf("not ready yet"), false).do(http.MethodGet, "/readyz", "", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newTestEnv(t, nil, false).do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestIngest(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		env := newTestEnv(t, nil, false)
		rec := env.ingest(`{"temperature": 22.5, "humidity": 55, "device_id": "esp32-01"}`)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, pipeline.OutcomeAccepted, body["status"])
		assert.NotEmpty(t, body["document_id"])

		n, _ := env.store.Count(context.Background())
		assert.Equal(t, int64(1), n)
		latest, _ := env.store.FindRecent(context.Background(), 1)
		assert.Equal(t, "esp32-01", latest[0].DeviceID)
	})

	t.Run("default device id", func(t *testing.T) {
		env := newTestEnv(t, nil, false)
		rec := env.ingest(`{"temperature": 22.5, "humidity": 55}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		latest, _ := env.store.FindRecent(context.Background(), 1)
		assert.Equal(t, "esp32-default", latest[0].DeviceID)
	})

	t.Run("malformed is rejected", func(t *testing.T) {
		env := newTestEnv(t, nil, false)
		rec := env.ingest(`{"temperature": "warm", "humidity": 55}`)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, pipeline.OutcomeRejected, decode(t, rec)["status"])
		n, _ := env.store.Count(context.Background())
		assert.Zero(t, n)
	})

	t.Run("invalid json", func(t *testing.T) {
		rec := newTestEnv(t, nil, false).ingest(`{"temperature":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing api key", func(t *testing.T) {
		env := newTestEnv(t, nil, false)
		rec := env.do(http.MethodPost, "/api/sensors/ingest", `{"temperature": 22.5, "humidity": 55}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong api key", func(t *testing.T) {
		env := newTestEnv(t, nil, false)
		rec := env.do(http.MethodPost, "/api/sensors/ingest", `{"temperature": 22.5, "humidity": 55}`,
			map[string]string{httpadapter.APIKeyHeader: "nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLatestAndHistory(t *testing.T) {
	env := newTestEnv(t, nil, false)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/sensors/latest", "", nil).Code)

	for i := range 3 {
		require.Equal(t, http.StatusCreated, env.ingest(fmt.Sprintf(`{"temperature": %d, "humidity": 50}`, 20+i)).Code)
	}

	rec := env.do(http.MethodGet, "/api/sensors/latest", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 22.0, decode(t, rec)["temperature"])

	rec = env.do(http.MethodGet, "/api/sensors/history?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["readings"], 2)
	assert.Equal(t, 3.0, body["total"])

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/sensors/history?limit=0", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/sensors/history?limit=1001", "", nil).Code)
}

func TestLatest_OmitsUnsetTimestamps(t *testing.T) {
	env := newTestEnv(t, nil, false)
	recorded := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := env.store.Save(context.Background(), &domain.Reading{
		Source:     domain.SourceFallback,
		DeviceID:   "esp32-01",
		RecordedAt: recorded,
	})
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/sensors/latest", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "2026-03-01T10:00:00Z", body["recorded_at"])
	assert.NotContains(t, body, "processed_at")
	assert.NotContains(t, body, "extracted_at")
	assert.NotContains(t, body, "loaded_at")
}

func TestAnalyticsEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := env.do(http.MethodGet, "/api/analytics/summary", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["no_data"])
	assert.Equal(t, "24h", body["timeframe"])

	require.Equal(t, http.StatusCreated, env.ingest(`{"temperature": 22.5, "humidity": 55}`).Code)

	rec = env.do(http.MethodGet, "/api/analytics/summary?timeframe=1h", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["no_data"])

	rec = env.do(http.MethodGet, "/api/analytics/summary?timeframe=2w", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "unknown timeframe")

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/analytics/trends?days=3", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/analytics/trends?days=91", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/analytics/trends?days=x", "", nil).Code)

	rec = env.do(http.MethodGet, "/api/analytics/data-quality", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "recommendations")

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/analytics/dashboard", "", nil).Code)
}

func TestPipelineStats(t *testing.T) {
	env := newTestEnv(t, nil, false)
	require.Equal(t, http.StatusCreated, env.ingest(`{"temperature": 22.5, "humidity": 55}`).Code)
	require.Equal(t, http.StatusCreated, env.ingest(`{"temperature": 79, "humidity": 55}`).Code)

	rec := env.do(http.MethodGet, "/api/analytics/pipeline-stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 2.0, body["processed"])
	assert.Equal(t, 2.0, body["valid"])
}

func TestConsumerEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, true)

	rec := env.do(http.MethodPost, "/api/thingspeak/consumer/stop", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_running", decode(t, rec)["status"])

	rec = env.do(http.MethodPost, "/api/thingspeak/consumer/start?interval=45", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 45*time.Second, env.consumer.interval)
	assert.Equal(t, "loop", env.consumer.startCtx.Value(ctxKey{}), "loop must not be bound to the request")

	rec = env.do(http.MethodPost, "/api/thingspeak/consumer/start", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_running", decode(t, rec)["status"])

	rec = env.do(http.MethodGet, "/api/thingspeak/consumer/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["consumer_running"])
	assert.Equal(t, 110.0, body["last_processed_entry_id"])

	rec = env.do(http.MethodPost, "/api/thingspeak/consumer/stop", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConsumerStart_WhileStopping(t *testing.T) {
	env := newTestEnv(t, nil, true)
	env.consumer.startErr = poller.ErrStopping

	rec := env.do(http.MethodPost, "/api/thingspeak/consumer/start", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "stopping", decode(t, rec)["status"])
}

func TestConsumerStart_IntervalBounds(t *testing.T) {
	env := newTestEnv(t, nil, true)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/thingspeak/consumer/start?interval=29", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/thingspeak/consumer/start?interval=3601", "", nil).Code)
	assert.False(t, env.consumer.running)
}

func TestManualSync(t *testing.T) {
	env := newTestEnv(t, nil, true)

	rec := env.do(http.MethodGet, "/api/thingspeak/sync?results=25", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25, env.consumer.syncResults)
	assert.Equal(t, 25.0, decode(t, rec)["total_fetched"])

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/thingspeak/sync?results=101", "", nil).Code)

	env.consumer.syncErr = errors.New("thingspeak API error: status 500")
	assert.Equal(t, http.StatusInternalServerError, env.do(http.MethodGet, "/api/thingspeak/sync", "", nil).Code)
}

func TestConsumerNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodGet, "/api/thingspeak/consumer/status", "", nil).Code)
}
