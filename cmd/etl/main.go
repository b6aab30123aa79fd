package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/telemetry-quality-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/telemetry-quality-etl/internal/adapter/kafka"
	"github.com/couchcryptid/telemetry-quality-etl/internal/adapter/memory"
	mongoadapter "github.com/couchcryptid/telemetry-quality-etl/internal/adapter/mongo"
	redisadapter "github.com/couchcryptid/telemetry-quality-etl/internal/adapter/redis"
	"github.com/couchcryptid/telemetry-quality-etl/internal/adapter/thingspeak"
	"github.com/couchcryptid/telemetry-quality-etl/internal/analytics"
	"github.com/couchcryptid/telemetry-quality-etl/internal/config"
	"github.com/couchcryptid/telemetry-quality-etl/internal/observability"
	"github.com/couchcryptid/telemetry-quality-etl/internal/pipeline"
	"github.com/couchcryptid/telemetry-quality-etl/internal/poller"
)

// store is what the service needs from a storage backend.
type store interface {
	pipeline.Repository
	poller.CursorStore
	analytics.Source
	Count(ctx context.Context) (int64, error)
	CheckReadiness(ctx context.Context) error
}

// readiness is ready when every check passes.
type readiness []func(context.Context) error

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, check := range r {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}

	var closers []func(context.Context) error

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	closers = append(closers, closeStore)
	ready := readiness{st.CheckReadiness}

	// Analytics cache: Redis when configured, otherwise in-process.
	var cache analytics.Cache
	if cfg.RedisAddr != "" {
		rc, err := redisadapter.NewCache(ctx, cfg)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		cache = rc
		ready = append(ready, rc.CheckReadiness)
		closers = append(closers, func(context.Context) error { return rc.Close() })
		logger.Info("analytics cache: redis", "addr", cfg.RedisAddr, "ttl", cfg.AnalyticsCacheTTL)
	} else {
		cache = memory.NewLRUCache(cfg.AnalyticsCacheSize, nil)
		logger.Info("analytics cache: in-process", "size", cfg.AnalyticsCacheSize, "ttl", cfg.AnalyticsCacheTTL)
	}

	// Kafka sink (feature-flagged via KAFKA_ENABLED).
	var publisher pipeline.Publisher
	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, metrics, logger)
		publisher = writer
		closers = append(closers, func(context.Context) error { return writer.Close() })
		logger.Info("kafka sink enabled", "topic", cfg.KafkaSinkTopic, "brokers", cfg.KafkaBrokers)
	}

	feed := thingspeak.NewClient(cfg, metrics, logger)
	var forwarder pipeline.Forwarder
	if cfg.ThingSpeakForwardEnabled {
		forwarder = feed
		logger.Info("forwarding ingested readings to thingspeak")
	}

	stats := pipeline.NewSessionStats()
	orch := pipeline.New(pipeline.RuleValidator{}, pipeline.ReadingEnricher{}, st, publisher, stats, logger, metrics)
	ingestor := pipeline.NewIngestor(orch, st, forwarder, logger, metrics)
	engine := analytics.NewEngine(st, cache, cfg.AnalyticsCacheTTL, logger, metrics)

	deps := httpadapter.Deps{
		Ingestor:    ingestor,
		Readings:    st,
		Analytics:   engine,
		Stats:       stats,
		IoTAPIKey:   cfg.IoTAPIKey,
		LoopContext: ctx,
	}

	var consumer *poller.Poller
	if cfg.ThingSpeakChannelID != "" {
		consumer = poller.New(feed, orch, st, poller.Options{
			DeviceID: cfg.ThingSpeakDeviceID,
			PageSize: cfg.PollerPageSize,
		}, logger, metrics)
		deps.Consumer = consumer

		if cfg.PollerEnabled {
			h, err := consumer.Start(ctx, cfg.PollerInterval)
			if err != nil {
				logger.Error("failed to start feed poller", "error", err)
			} else {
				logger.Info("feed poller auto-started", "interval", h.Interval(), "page_size", cfg.PollerPageSize)
			}
		}
	} else {
		logger.Info("thingspeak channel not configured, feed consumer disabled")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, deps, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if consumer != nil {
		waitForPoller(shutdownCtx, consumer, logger)
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](shutdownCtx); err != nil {
			logger.Error("close error", "error", err)
		}
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}

	logger.Info("shutdown complete", "stats", stats.Snapshot())
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, func(context.Context) error, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; readings are lost on restart")
		return memory.NewStore(), func(context.Context) error { return nil }, nil
	case config.StorageMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := mongoadapter.Connect(connectCtx, cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to mongodb", "database", cfg.MongoDatabase, "collection", cfg.MongoCollection)
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// waitForPoller stops the feed loop and waits for an in-flight cycle to finish.
func waitForPoller(ctx context.Context, p *poller.Poller, logger *slog.Logger) {
	h := p.Handle()
	if h == nil {
		return
	}
	h.Stop()
	select {
	case <-h.Done():
	case <-ctx.Done():
		logger.Warn("feed poller did not stop before shutdown deadline")
	}
}
