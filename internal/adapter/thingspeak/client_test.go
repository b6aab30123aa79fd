package thingspeak

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
	"github.com/couchcryptid/telemetry-quality-etl/internal/observability"
)

const (
	testChannel       = "123456"
	testReadKey       = "read-key"
	testWriteKey      = "write-key"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testClient(baseURL string) *Client {
	return &Client{
		baseURL:     baseURL,
		channelID:   testChannel,
		readAPIKey:  testReadKey,
		writeAPIKey: testWriteKey,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		metrics:     observability.NewMetricsForTesting(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestClient_FetchLatest_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/channels/123456/feeds.json", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("results"))
		assert.Equal(t, testReadKey, r.URL.Query().Get("api_key"))

		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{
			"channel": {"id": 123456, "last_entry_id": 102},
			"feeds": [
				{"created_at": "2026-03-01T10:00:00Z", "entry_id": 101, "field1": "22.5", "field2": "55"},
				{"created_at": "2026-03-01T10:01:00Z", "entry_id": 102, "field1": " 23.0 ", "field2": "56.25"}
			]
		}`))
	}))
	defer srv.Close()

	entries, err := testClient(srv.URL).FetchLatest(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, domain.FeedEntry{
		EntryID:     101,
		Temperature: 22.5,
		Humidity:    55,
		CreatedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}, entries[0])
	assert.Equal(t, int64(102), entries[1].EntryID)
	assert.Equal(t, 23.0, entries[1].Temperature)
	assert.Equal(t, 56.25, entries[1].Humidity)
}

func TestClient_FetchLatest_SkipsIncompleteEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"feeds": [
			{"created_at": "2026-03-01T10:00:00Z", "entry_id": 1, "field1": null, "field2": "55"},
			{"created_at": "2026-03-01T10:00:00Z", "entry_id": 2, "field1": "abc", "field2": "55"},
			{"created_at": "2026-03-01T10:00:00Z", "entry_id": 3, "field1": "20", "field2": ""},
			{"created_at": "not-a-time", "entry_id": 4, "field1": "20", "field2": "50"},
			{"created_at": "2026-03-01T10:00:00Z", "entry_id": 5, "field1": "20", "field2": "50"}
		]}`))
	}))
	defer srv.Close()

	entries, err := testClient(srv.URL).FetchLatest(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(5), entries[0].EntryID)
}

func TestClient_FetchLatest_EmptyFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"feeds": []}`))
	}))
	defer srv.Close()

	entries, err := testClient(srv.URL).FetchLatest(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClient_FetchLatest_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`-1`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchLatest(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestClient_FetchLatest_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"feeds": [`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchLatest(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode feed response")
}

func TestClient_FetchLatest_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.httpClient.Timeout = 50 * time.Millisecond

	_, err := c.FetchLatest(context.Background(), 10)
	require.Error(t, err)
}

func TestClient_SendReading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/update", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, testWriteKey, q.Get("api_key"))
		assert.Equal(t, "22.5", q.Get("field1"))
		assert.Equal(t, "55", q.Get("field2"))
		_, _ = w.Write([]byte(`17`))
	}))
	defer srv.Close()

	require.NoError(t, testClient(srv.URL).SendReading(context.Background(), 22.5, 55))
}

func TestClient_SendReading_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := testClient(srv.URL).SendReading(context.Background(), 22.5, 55)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
