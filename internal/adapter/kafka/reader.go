package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/config"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// fetcher is the read side of a kafka-go Reader.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Reader consumes run requests from a Kafka topic.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader        fetcher
	logger        *slog.Logger
	flushInterval time.Duration
}

// NewReader creates a consumer-group reader for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     cfg.KafkaGroupID,
		Topic:       cfg.KafkaSourceTopic,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Reader{reader: r, logger: logger, flushInterval: 500 * time.Millisecond}
}

// ExtractBatch blocks until one request is available, then collects up to
// batchSize-1 more that arrive within the flush interval. Undecodable
// messages are committed and skipped.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RunMessage, error) {
	var batch []domain.RunMessage
	for len(batch) < batchSize {
		fetchCtx := ctx
		cancel := context.CancelFunc(func() {})
		if len(batch) > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, r.flushInterval)
		}
		msg, err := r.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			// A partial batch is returned when the flush window closes.
			if len(batch) > 0 && ctx.Err() == nil {
				return batch, nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, kafkago.ErrGroupClosed) {
				return nil, fmt.Errorf("reader closed: %w", err)
			}
			return nil, err
		}

		run, err := mapMessageToRunMessage(msg)
		if err != nil {
			r.logger.Warn("invalid run request, skipping message",
				"error", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			if err := r.reader.CommitMessages(ctx, msg); err != nil {
				r.logger.Warn("commit offset failed", "error", err, "offset", msg.Offset)
			}
			continue
		}
		run.Commit = func(ctx context.Context) error {
			return r.reader.CommitMessages(ctx, msg)
		}
		batch = append(batch, run)
	}
	return batch, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToRunMessage decodes and validates a run request message.
func mapMessageToRunMessage(msg kafkago.Message) (domain.RunMessage, error) {
	var req domain.RunRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return domain.RunMessage{}, fmt.Errorf("decode run request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return domain.RunMessage{}, fmt.Errorf("validate run request: %w", err)
	}
	return domain.RunMessage{
		Request:   req,
		Key:       msg.Key,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}, nil
}
