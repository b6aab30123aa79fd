// Package poller keeps the reading store in step with the external telemetry
// feed. Each cycle reads the durable cursor, fetches the most recent page of
// the feed, runs every entry newer than the cursor through the pipeline and
// advances the cursor to the highest entry that was stored.
//
// The feed only serves "most recent N", so entries older than the page are
// never seen. A cycle in which every fetched entry is new and the page was
// full is counted as a suspected gap.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
	"github.com/couchcryptid/telemetry-quality-etl/internal/observability"
	"github.com/couchcryptid/telemetry-quality-etl/internal/pipeline"
)

var (
	// ErrAlreadyRunning is returned by Start while a loop is active.
	ErrAlreadyRunning = errors.New("poller already running")
	// ErrNotRunning is returned by Stop when no loop is active.
	ErrNotRunning = errors.New("poller not running")
	// ErrStopping is returned by Start while a stopped loop is still
	// finishing its last cycle.
	ErrStopping = errors.New("poller is stopping")
)

// maxReportedErrors caps the error messages kept in a SyncReport.
const maxReportedErrors = 10

// Feed returns the most recent entries of the external feed in feed order.
type Feed interface {
	FetchLatest(ctx context.Context, results int) ([]domain.FeedEntry, error)
}

// Executor runs one raw reading through the ETL pipeline.
type Executor interface {
	Execute(ctx context.Context, raw domain.RawReading) pipeline.Result
}

// CursorStore persists the id of the last feed entry that was stored.
type CursorStore interface {
	GetCursor(ctx context.Context) (int64, error)
	SaveCursor(ctx context.Context, lastEntryID int64) error
}

// Options tune a Poller.
type Options struct {
	// DeviceID is stamped on every feed reading.
	DeviceID string
	// PageSize is the number of entries requested per cycle.
	PageSize int
	// Clock drives the inter-cycle sleep. Nil uses real time.
	Clock clockwork.Clock
}

// CycleReport describes one SyncOnce pass.
type CycleReport struct {
	Fetched      int   `json:"fetched"`
	New          int   `json:"new"`
	Processed    int   `json:"processed"`
	Failed       int   `json:"failed"`
	Cursor       int64 `json:"cursor"`
	Advanced     bool  `json:"advanced"`
	GapSuspected bool  `json:"gap_suspected"`
}

// SyncReport is the outcome of a manual one-shot sync.
type SyncReport struct {
	Status       string   `json:"status"`
	Message      string   `json:"message"`
	TotalFetched int      `json:"total_fetched"`
	Processed    int      `json:"processed"`
	Errors       []string `json:"errors"`
	ErrorCount   int      `json:"error_count"`
	LastEntryID  int64    `json:"last_entry_id"`
}

// Sync report statuses.
const (
	SyncSuccess = "success"
	SyncNoData  = "no_data"
)

// Status is a point-in-time view of the poller.
type Status struct {
	Running              bool   `json:"consumer_running"`
	Stopping             bool   `json:"consumer_stopping,omitempty"`
	IntervalSeconds      int    `json:"interval_seconds,omitempty"`
	LastProcessedEntryID int64  `json:"last_processed_entry_id"`
	LastCycleAt          string `json:"last_cycle_at,omitempty"`
	LastError            string `json:"last_error,omitempty"`
}

// Poller owns the feed consumer loop. At most one loop runs per Poller.
type Poller struct {
	feed     Feed
	executor Executor
	cursors  CursorStore
	deviceID string
	pageSize int
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu        sync.Mutex
	handle    *Handle
	lastCycle time.Time
	lastError string

	lastEntryID atomic.Int64
}

// New creates a Poller.
func New(feed Feed, executor Executor, cursors CursorStore, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Poller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	return &Poller{
		feed:     feed,
		executor: executor,
		cursors:  cursors,
		deviceID: opts.DeviceID,
		pageSize: opts.PageSize,
		clock:    opts.Clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// SyncOnce performs one cold-read, fetch, process and advance pass. A failure
// to read the cursor or fetch the feed aborts the pass before any entry is
// processed. A failure to save the cursor is logged; the affected entries are
// processed again on the next pass.
func (p *Poller) SyncOnce(ctx context.Context) (CycleReport, error) {
	ctx, span := observability.Tracer("poller").Start(ctx, "poller.SyncOnce")
	defer span.End()

	var report CycleReport

	cursor, err := p.cursors.GetCursor(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("read cursor: %w", err)
	}
	report.Cursor = cursor
	p.lastEntryID.Store(cursor)

	entries, err := p.feed.FetchLatest(ctx, p.pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("fetch feed: %w", err)
	}
	report.Fetched = len(entries)
	p.metrics.FeedEntriesFetched.Add(float64(len(entries)))

	fresh := newerThan(entries, cursor)
	report.New = len(fresh)
	p.metrics.FeedEntriesNew.Add(float64(len(fresh)))
	span.SetAttributes(
		attribute.Int64("cursor", cursor),
		attribute.Int("fetched", len(entries)),
		attribute.Int("new", len(fresh)),
	)

	if cursor > 0 && len(entries) >= p.pageSize && len(fresh) == len(entries) {
		report.GapSuspected = true
		p.metrics.FeedGapSuspected.Inc()
		p.logger.Warn("every fetched feed entry is new; older unseen entries may have been skipped",
			"cursor", cursor, "page_size", p.pageSize, "oldest_fetched", fresh[0].EntryID)
	}

	if len(fresh) == 0 {
		p.logger.Debug("no new feed entries", "cursor", cursor)
		return report, nil
	}

	highest := cursor
	for _, e := range fresh {
		res := p.executor.Execute(ctx, e.RawReading(p.deviceID))
		if !res.Success {
			report.Failed++
			p.logger.Warn("feed entry failed ETL", "entry_id", e.EntryID, "error", res.Error)
			continue
		}
		report.Processed++
		highest = max(highest, e.EntryID)
	}

	if highest > cursor {
		if err := p.cursors.SaveCursor(ctx, highest); err != nil {
			p.logger.Error("save cursor", "cursor", highest, "error", err)
		} else {
			report.Cursor = highest
			report.Advanced = true
			p.lastEntryID.Store(highest)
			p.metrics.ConsumerCursor.Set(float64(highest))
		}
	}

	if report.Processed > 0 {
		p.logger.Info("feed entries processed",
			"processed", report.Processed, "failed", report.Failed, "cursor", report.Cursor)
	}
	return report, nil
}

// ManualSync fetches the latest results entries and runs all of them through
// the pipeline regardless of the cursor, for operator-driven recovery. The
// cursor only moves forward, to the highest entry stored.
func (p *Poller) ManualSync(ctx context.Context, results int) (SyncReport, error) {
	ctx, span := observability.Tracer("poller").Start(ctx, "poller.ManualSync")
	defer span.End()

	report := SyncReport{Errors: []string{}}

	entries, err := p.feed.FetchLatest(ctx, results)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("fetch feed: %w", err)
	}
	if len(entries) == 0 {
		report.Status = SyncNoData
		report.Message = "no entries found in the feed"
		return report, nil
	}
	report.TotalFetched = len(entries)
	p.metrics.FeedEntriesFetched.Add(float64(len(entries)))

	var highest int64
	for _, e := range entries {
		res := p.executor.Execute(ctx, e.RawReading(p.deviceID))
		if !res.Success {
			report.ErrorCount++
			if len(report.Errors) < maxReportedErrors {
				report.Errors = append(report.Errors, fmt.Sprintf("etl failed for entry_id %d: %s", e.EntryID, res.Error))
			}
			continue
		}
		report.Processed++
		highest = max(highest, e.EntryID)
	}

	cursor, err := p.cursors.GetCursor(ctx)
	if err != nil {
		return report, fmt.Errorf("read cursor: %w", err)
	}
	if highest > cursor {
		if err := p.cursors.SaveCursor(ctx, highest); err != nil {
			return report, fmt.Errorf("save cursor: %w", err)
		}
		cursor = highest
		p.metrics.ConsumerCursor.Set(float64(highest))
	}
	p.lastEntryID.Store(cursor)

	report.Status = SyncSuccess
	report.Message = "manual sync completed"
	report.LastEntryID = cursor
	p.logger.Info("manual sync completed",
		"fetched", report.TotalFetched, "processed", report.Processed, "errors", report.ErrorCount)
	return report, nil
}

// Status reports whether the loop is running and the last known cursor.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		LastProcessedEntryID: p.lastEntryID.Load(),
		LastError:            p.lastError,
	}
	if h := p.handle; h != nil {
		st.Stopping = h.stopping()
		st.Running = !st.Stopping
		if st.Running {
			st.IntervalSeconds = int(h.Interval() / time.Second)
		}
	}
	if !p.lastCycle.IsZero() {
		st.LastCycleAt = p.lastCycle.UTC().Format(time.RFC3339)
	}
	return st
}

// newerThan returns the entries with an id above cursor, in ascending id order.
func newerThan(entries []domain.FeedEntry, cursor int64) []domain.FeedEntry {
	out := make([]domain.FeedEntry, 0, len(entries))
	for _, e := range entries {
		if e.EntryID > cursor {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out
}

// cycle runs one SyncOnce and records its outcome. It never panics.
func (p *Poller) cycle(ctx context.Context) {
	cycleID := uuid.NewString()
	logger := p.logger.With("cycle_id", cycleID)

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		p.mu.Lock()
		p.lastCycle = p.clock.Now()
		p.lastError = ""
		if err != nil {
			p.lastError = err.Error()
		}
		p.mu.Unlock()

		if err != nil {
			p.metrics.PollCycles.WithLabelValues("error").Inc()
			logger.Error("poll cycle failed", "error", err)
			return
		}
		p.metrics.PollCycles.WithLabelValues("success").Inc()
	}()

	_, err = p.SyncOnce(ctx)
}
