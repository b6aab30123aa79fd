//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/telemetry-quality-etl/internal/adapter/memory"
	"github.com/couchcryptid/telemetry-quality-etl/internal/adapter/thingspeak"
	"github.com/couchcryptid/telemetry-quality-etl/internal/analytics"
	"github.com/couchcryptid/telemetry-quality-etl/internal/config"
	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
	"github.com/couchcryptid/telemetry-quality-etl/internal/observability"
	"github.com/couchcryptid/telemetry-quality-etl/internal/pipeline"
	"github.com/couchcryptid/telemetry-quality-etl/internal/poller"
)

func ptr(v float64) *float64 { return &v }

// TestMongoStore covers persistence and the cursor document against a real
// MongoDB.
func TestMongoStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := startMongo(ctx, t)

	for i, temp := range []float64{20, 21, 22} {
		r := domain.Reading{
			Temperature: ptr(temp),
			Humidity:    ptr(50),
			DeviceID:    "esp32-01",
			Source:      domain.SourceIoTSensor,
			Validation:  &domain.Validation{IsValid: true, Errors: []string{}, Warnings: []string{}},
			RecordedAt:  time.Date(2026, 1, 1, 10, i, 0, 0, time.UTC),
		}
		id, err := store.Save(ctx, &r)
		require.NoError(t, err)
		assert.Len(t, id, 24, "hex ObjectID")
	}

	recent, err := store.FindRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 22.0, *recent[0].Temperature, "newest first")
	assert.Equal(t, 21.0, *recent[1].Temperature)
	assert.NotEmpty(t, recent[0].ID)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	cursor, err := store.GetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor, "no cursor document yet")

	require.NoError(t, store.SaveCursor(ctx, 42))
	require.NoError(t, store.SaveCursor(ctx, 57))
	cursor, err = store.GetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(57), cursor)

	require.NoError(t, store.CheckReadiness(ctx))
}

// TestMongoPipelineAndAnalytics runs device submissions through the ingestor
// into MongoDB and checks that the aggregation pipelines agree with the
// in-memory store on the same data.
func TestMongoPipelineAndAnalytics(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := startMongo(ctx, t)
	mem := memory.NewStore()
	metrics := observability.NewMetricsForTesting()

	submissions := []pipeline.Submission{
		{Temperature: 22.5, Humidity: 55.0, DeviceID: "esp32-01"},
		{Temperature: 23.0, Humidity: 54.0, DeviceID: "esp32-01"},
		{Temperature: 27.0, Humidity: 75.0, DeviceID: "esp32-01"},
		{Temperature: 95.0, Humidity: 55.0, DeviceID: "esp32-02"},
		{Temperature: 10.0, Humidity: 120.0, DeviceID: "esp32-02"},
		{Temperature: 12.0, Humidity: 97.0, DeviceID: "esp32-03"},
	}

	for _, repo := range []pipeline.Repository{store, mem} {
		orch := pipeline.New(pipeline.RuleValidator{}, pipeline.ReadingEnricher{}, repo, nil,
			pipeline.NewSessionStats(), discardLogger(), metrics)
		ingestor := pipeline.NewIngestor(orch, repo, nil, discardLogger(), metrics)
		for _, s := range submissions {
			res, err := ingestor.Ingest(ctx, s)
			require.NoError(t, err)
			require.NotNil(t, res.ETL)
			require.True(t, res.ETL.Success, res.ETL.Error)
		}
	}

	since := domain.Now().Add(-time.Hour)

	want, err := mem.WindowStats(ctx, since)
	require.NoError(t, err)
	got, err := store.WindowStats(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Count)
	assert.Equal(t, want.Count, got.Count)
	assert.InDelta(t, want.AvgTemperature, got.AvgTemperature, 1e-9)
	assert.Equal(t, want.MinTemperature, got.MinTemperature)
	assert.Equal(t, want.MaxHumidity, got.MaxHumidity)
	require.NotNil(t, got.AvgQuality)
	assert.InDelta(t, *want.AvgQuality, *got.AvgQuality, 1e-9)

	buckets, err := store.HourlyAverages(ctx, since, 100)
	require.NoError(t, err)
	memBuckets, err := mem.HourlyAverages(ctx, since, 100)
	require.NoError(t, err)
	require.Len(t, buckets, len(memBuckets))
	var total int64
	for _, b := range buckets {
		assert.Equal(t, b.Hour, b.Hour.Truncate(time.Hour))
		total += b.Count
	}
	assert.Equal(t, int64(4), total)

	snap, err := store.QualitySnapshot(ctx, domain.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	memSnap, err := mem.QualitySnapshot(ctx, domain.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(6), snap.Total)
	assert.Equal(t, int64(6), snap.Recent)
	assert.Equal(t, memSnap.ErrorBuckets, snap.ErrorBuckets)
	require.NotNil(t, snap.Scores)
	assert.InDelta(t, memSnap.Scores.Average, snap.Scores.Average, 1e-9)

	engine := analytics.NewEngine(store, memory.NewLRUCache(16, nil), time.Minute, discardLogger(), metrics)
	report, err := engine.QualityReport(ctx)
	require.NoError(t, err)
	assert.False(t, report.NoData)
	assert.Equal(t, int64(6), report.Overview.TotalReadings)
	assert.Equal(t, analytics.FreshnessGood, report.Overview.DataFreshness)

	summary, err := engine.Summary(ctx, "1h")
	require.NoError(t, err)
	assert.False(t, summary.NoData)
	require.NotNil(t, summary.Temperature)
	assert.Equal(t, 27.0, summary.Temperature.Maximum)
}

// TestPollerWithMongoCursor polls a stubbed ThingSpeak channel and checks the
// cursor survives in MongoDB across pollers.
func TestPollerWithMongoCursor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := startMongo(ctx, t)
	metrics := observability.NewMetricsForTesting()

	var lastID atomic.Int64
	lastID.Store(3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"feeds":[`)
		for id := int64(1); id <= lastID.Load(); id++ {
			if id > 1 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"created_at":"2026-01-01T10:%02d:00Z","entry_id":%d,"field1":"2%d.0","field2":"5%d"}`, id, id, id%10, id%10)
		}
		fmt.Fprint(w, `]}`)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		ThingSpeakBaseURL:   srv.URL,
		ThingSpeakChannelID: "123456",
		ThingSpeakTimeout:   5 * time.Second,
	}
	feed := thingspeak.NewClient(cfg, metrics, discardLogger())
	orch := pipeline.New(pipeline.RuleValidator{}, pipeline.ReadingEnricher{}, store, nil,
		pipeline.NewSessionStats(), discardLogger(), metrics)
	opts := poller.Options{DeviceID: "thingspeak-123456", PageSize: 100}

	p := poller.New(feed, orch, store, opts, discardLogger(), metrics)
	report, err := p.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, int64(3), report.Cursor)

	// A fresh poller resumes from the persisted cursor.
	lastID.Store(5)
	p2 := poller.New(feed, orch, store, opts, discardLogger(), metrics)
	report, err = p2.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Fetched)
	assert.Equal(t, 2, report.New)
	assert.Equal(t, int64(5), report.Cursor)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	recent, err := store.FindRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.SourceThingSpeak, recent[0].Source)
	assert.Equal(t, "thingspeak-123456", recent[0].DeviceID)
	require.NotNil(t, recent[0].FeedEntryID)
	assert.Equal(t, int64(5), *recent[0].FeedEntryID)
}
