// Package kafka publishes loaded readings to a Kafka topic for downstream
// consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/telemetry-quality-etl/internal/config"
	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
	"github.com/couchcryptid/telemetry-quality-etl/internal/observability"
)

// messageWriter is the subset of *kafkago.Writer used by Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces messages to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer  messageWriter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, metrics: metrics, logger: logger}
}

// Publish serializes a persisted reading and writes it keyed by document id.
func (w *Writer) Publish(ctx context.Context, r domain.Reading) error {
	msg, err := serializeToMessage(r)
	if err != nil {
		w.metrics.ProduceErrors.Inc()
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		w.metrics.ProduceErrors.Inc()
		return fmt.Errorf("write reading %s: %w", r.ID, err)
	}
	w.metrics.MessagesProduced.Inc()
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Reading into a Kafka message.
func serializeToMessage(r domain.Reading) (kafkago.Message, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize reading: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(r.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(r.Source)},
			{Key: "processed_at", Value: []byte(r.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
