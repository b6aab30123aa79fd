// Package thingspeak reads and writes the ThingSpeak channel that relays
// device telemetry. field1 carries temperature and field2 humidity.
package thingspeak

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/telemetry-quality-etl/internal/config"
	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
	"github.com/couchcryptid/telemetry-quality-etl/internal/observability"
)

// Client talks to the ThingSpeak REST API. It implements poller.Feed and
// pipeline.Forwarder.
type Client struct {
	baseURL     string
	channelID   string
	readAPIKey  string
	writeAPIKey string
	httpClient  *http.Client
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewClient creates a ThingSpeak client from the feed configuration.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.ThingSpeakBaseURL, "/"),
		channelID:   cfg.ThingSpeakChannelID,
		readAPIKey:  cfg.ThingSpeakReadAPIKey,
		writeAPIKey: cfg.ThingSpeakWriteAPIKey,
		httpClient: &http.Client{
			Timeout: cfg.ThingSpeakTimeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// FetchLatest returns up to results of the channel's most recent entries in
// feed order. Entries without a parseable temperature, humidity or timestamp
// are skipped.
func (c *Client) FetchLatest(ctx context.Context, results int) ([]domain.FeedEntry, error) {
	params := url.Values{"results": {strconv.Itoa(results)}}
	if c.readAPIKey != "" {
		params.Set("api_key", c.readAPIKey)
	}
	u := fmt.Sprintf("%s/channels/%s/feeds.json?%s", c.baseURL, url.PathEscape(c.channelID), params.Encode())

	resp, err := c.doRequest(ctx, u, "fetch")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}

	entries := make([]domain.FeedEntry, 0, len(body.Feeds))
	for _, item := range body.Feeds {
		entry, err := item.toEntry()
		if err != nil {
			c.logger.Warn("skipping incomplete feed entry", "entry_id", item.EntryID, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SendReading writes a reading to the channel. Only a 200 response counts
// as success.
func (c *Client) SendReading(ctx context.Context, temperature, humidity float64) error {
	params := url.Values{
		"api_key": {c.writeAPIKey},
		"field1":  {strconv.FormatFloat(temperature, 'f', -1, 64)},
		"field2":  {strconv.FormatFloat(humidity, 'f', -1, 64)},
	}
	resp, err := c.doRequest(ctx, c.baseURL+"/update?"+params.Encode(), "update")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("reading forwarded to thingspeak", "temperature", temperature, "humidity", humidity)
	return nil
}

// doRequest issues a GET and returns the response when the status is 200.
// The caller closes the body.
func (c *Client) doRequest(ctx context.Context, fullURL, method string) (*http.Response, error) {
	start := time.Now()
	defer func() {
		c.metrics.FeedAPIDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("thingspeak %s request: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("thingspeak API error: status %d: %s", resp.StatusCode, body)
	}
	return resp, nil
}

// ThingSpeak API response types.

type feedResponse struct {
	Feeds []feedItem `json:"feeds"`
}

type feedItem struct {
	CreatedAt string  `json:"created_at"`
	EntryID   int64   `json:"entry_id"`
	Field1    *string `json:"field1"`
	Field2    *string `json:"field2"`
}

func (f feedItem) toEntry() (domain.FeedEntry, error) {
	temp, err := parseField("field1", f.Field1)
	if err != nil {
		return domain.FeedEntry{}, err
	}
	hum, err := parseField("field2", f.Field2)
	if err != nil {
		return domain.FeedEntry{}, err
	}
	createdAt, err := time.Parse(time.RFC3339, f.CreatedAt)
	if err != nil {
		return domain.FeedEntry{}, fmt.Errorf("created_at: %w", err)
	}
	return domain.FeedEntry{
		EntryID:     f.EntryID,
		Temperature: temp,
		Humidity:    hum,
		CreatedAt:   createdAt.UTC(),
	}, nil
}

func parseField(name string, v *string) (float64, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return 0, fmt.Errorf("%s is empty", name)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(*v), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}
