package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/telemetry-quality-etl/internal/analytics"
	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
	"github.com/couchcryptid/telemetry-quality-etl/internal/pipeline"
	"github.com/couchcryptid/telemetry-quality-etl/internal/poller"
)

// APIKeyHeader carries the shared device key on ingestion requests.
const APIKeyHeader = "X-IoT-API-Key"

// Query parameter bounds.
const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	defaultTimeframe    = "24h"
	defaultTrendDays    = 7
	defaultIntervalSec  = 60
	minIntervalSec      = 30
	maxIntervalSec      = 3600
	defaultSyncResults  = 10
	maxSyncResults      = 100
	maxIngestBodyBytes  = 64 << 10
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(APIKeyHeader)
	if s.deps.IoTAPIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.deps.IoTAPIKey)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid or missing API key")
		return
	}

	var sub pipeline.Submission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBodyBytes)).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	res, err := s.deps.Ingestor.Ingest(r.Context(), sub)
	if errors.Is(err, domain.ErrMalformedReading) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"status": pipeline.OutcomeRejected,
			"error":  err.Error(),
		})
		return
	}
	if err != nil {
		s.logger.Error("ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store reading")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	readings, err := s.deps.Readings.FindRecent(r.Context(), 1)
	if err != nil {
		s.internalError(w, "find latest reading", err)
		return
	}
	if len(readings) == 0 {
		writeError(w, http.StatusNotFound, "no readings stored")
		return
	}
	writeJSON(w, http.StatusOK, readings[0])
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := s.deps.Readings.FindRecent(r.Context(), limit)
	if err != nil {
		s.internalError(w, "find reading history", err)
		return
	}
	total, err := s.deps.Readings.Count(r.Context())
	if err != nil {
		s.internalError(w, "count readings", err)
		return
	}
	if readings == nil {
		readings = []domain.Reading{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"readings": readings,
		"count":    len(readings),
		"total":    total,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = defaultTimeframe
	}
	if !analytics.ValidTimeframe(timeframe) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %q", analytics.ErrUnknownTimeframe, timeframe))
		return
	}
	out, err := s.deps.Analytics.Summary(r.Context(), timeframe)
	if err != nil {
		s.internalError(w, "analytics summary", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	days := defaultTrendDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "days must be an integer")
			return
		}
		days = n
	}
	out, err := s.deps.Analytics.Trends(r.Context(), days)
	if errors.Is(err, analytics.ErrDaysOutOfRange) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "analytics trends", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Analytics.QualityReport(r.Context())
	if err != nil {
		s.internalError(w, "data quality report", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePipelineStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Stats.Snapshot())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Analytics.Dashboard(r.Context())
	if err != nil {
		s.internalError(w, "analytics dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) requireConsumer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Consumer == nil {
			writeError(w, http.StatusServiceUnavailable, "feed consumer is not configured")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleConsumerStart(w http.ResponseWriter, r *http.Request) {
	seconds, err := intParam(r, "interval", defaultIntervalSec, minIntervalSec, maxIntervalSec)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err = s.deps.Consumer.Start(s.deps.LoopContext, time.Duration(seconds)*time.Second)
	if errors.Is(err, poller.ErrAlreadyRunning) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"status":  "already_running",
			"message": err.Error(),
		})
		return
	}
	if errors.Is(err, poller.ErrStopping) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"status":  "stopping",
			"message": err.Error(),
		})
		return
	}
	if err != nil {
		s.internalError(w, "start consumer", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "started",
		"interval": seconds,
	})
}

func (s *Server) handleConsumerStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Consumer.Stop(); errors.Is(err, poller.ErrNotRunning) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"status":  "not_running",
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleConsumerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Consumer.Status())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	results, err := intParam(r, "results", defaultSyncResults, 1, maxSyncResults)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.deps.Consumer.ManualSync(r.Context(), results)
	if err != nil {
		s.internalError(w, "manual sync", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", name, lo, hi)
	}
	return n, nil
}
