// Package http serves the ingestion, query, analytics and feed consumer
// endpoints alongside health, readiness and metrics.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/telemetry-quality-etl/internal/analytics"
	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
	"github.com/couchcryptid/telemetry-quality-etl/internal/pipeline"
	"github.com/couchcryptid/telemetry-quality-etl/internal/poller"
)

// Ingester stores device submissions.
type Ingester interface {
	Ingest(ctx context.Context, s pipeline.Submission) (pipeline.IngestResult, error)
}

// ReadingQuery reads persisted readings.
type ReadingQuery interface {
	FindRecent(ctx context.Context, limit int) ([]domain.Reading, error)
	Count(ctx context.Context) (int64, error)
}

// Analytics answers aggregate queries.
type Analytics interface {
	Summary(ctx context.Context, timeframe string) (analytics.Summary, error)
	Trends(ctx context.Context, days int) (analytics.Trends, error)
	QualityReport(ctx context.Context) (analytics.QualityReport, error)
	Dashboard(ctx context.Context) (analytics.Dashboard, error)
}

// StatsProvider exposes the pipeline session counters.
type StatsProvider interface {
	Snapshot() pipeline.StatsSnapshot
}

// Consumer controls the feed poller.
type Consumer interface {
	Start(ctx context.Context, interval time.Duration) (*poller.Handle, error)
	Stop() error
	Status() poller.Status
	ManualSync(ctx context.Context, results int) (poller.SyncReport, error)
}

// Deps are the components behind the API routes. Consumer is nil when the
// feed is not configured.
type Deps struct {
	Ingestor  Ingester
	Readings  ReadingQuery
	Analytics Analytics
	Stats     StatsProvider
	Consumer  Consumer
	IoTAPIKey string

	// LoopContext bounds poll loops started through the API. It outlives
	// the request that starts them.
	LoopContext context.Context
}

// Server exposes the service's HTTP endpoints.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	if deps.LoopContext == nil {
		deps.LoopContext = context.Background()
	}

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/sensors/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/sensors/latest", s.handleLatest)
	mux.HandleFunc("GET /api/sensors/history", s.handleHistory)

	mux.HandleFunc("GET /api/analytics/summary", s.handleSummary)
	mux.HandleFunc("GET /api/analytics/trends", s.handleTrends)
	mux.HandleFunc("GET /api/analytics/data-quality", s.handleQuality)
	mux.HandleFunc("GET /api/analytics/pipeline-stats", s.handlePipelineStats)
	mux.HandleFunc("GET /api/analytics/dashboard", s.handleDashboard)

	mux.HandleFunc("POST /api/thingspeak/consumer/start", s.requireConsumer(s.handleConsumerStart))
	mux.HandleFunc("POST /api/thingspeak/consumer/stop", s.requireConsumer(s.handleConsumerStop))
	mux.HandleFunc("GET /api/thingspeak/consumer/status", s.requireConsumer(s.handleConsumerStatus))
	mux.HandleFunc("GET /api/thingspeak/sync", s.requireConsumer(s.handleSync))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
