package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/config"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces merged zone records to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch publishes the records of one layer in a single WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, layer string, records []domain.LongitudinalZoneRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := domain.Now()
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(layer, records[i], now)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d records for layer %s: %w", len(msgs), layer, err)
	}
	w.logger.Debug("records published", "layer", layer, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a merged zone record keyed by its uid.
func serializeToMessage(layer string, rec domain.LongitudinalZoneRecord, processedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize zone record %s: %w", rec.UID, err)
	}
	return kafkago.Message{
		Key:   []byte(rec.UID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "layer", Value: []byte(layer)},
			{Key: "processed_at", Value: []byte(processedAt.Format(time.RFC3339))},
		},
	}, nil
}

// RequestWriter produces run requests to the source topic.
// It implements httpadapter.RunSubmitter.
type RequestWriter struct {
	writer *kafkago.Writer
}

// NewRequestWriter creates a Kafka producer for the configured source topic.
func NewRequestWriter(cfg *config.Config) *RequestWriter {
	return &RequestWriter{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSourceTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}}
}

// Submit publishes req keyed by its asset suffix, so requests for one block
// land on one partition and are executed in order.
func (w *RequestWriter) Submit(ctx context.Context, req domain.RunRequest) error {
	msg, err := serializeRequest(req)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *RequestWriter) Close() error {
	return w.writer.Close()
}

func serializeRequest(req domain.RunRequest) (kafkago.Message, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run request: %w", err)
	}
	return kafkago.Message{Key: []byte(req.Suffix()), Value: data}, nil
}
