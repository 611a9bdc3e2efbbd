package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/odyssey-erp/stockledger/internal/repost"
)

// DefaultGLTopic receives GL repost events when no topic is configured.
const DefaultGLTopic = "stock.gl_repost"

// MessageWriter is the subset of *kafka.Writer the reposter needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaGLReposter publishes GL repost requests as events.
type KafkaGLReposter struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewKafkaGLReposter builds a reposter writing to topic on brokers.
func NewKafkaGLReposter(brokers []string, topic string, logger *slog.Logger) *KafkaGLReposter {
	if topic == "" {
		topic = DefaultGLTopic
	}
	return NewKafkaGLReposterWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}, logger)
}

// NewKafkaGLReposterWithWriter builds a reposter over an existing writer.
func NewKafkaGLReposterWithWriter(writer MessageWriter, logger *slog.Logger) *KafkaGLReposter {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaGLReposter{writer: writer, logger: logger.With(slog.String("component", "integration.kafka"))}
}

// RepostVouchers publishes one event per batch keyed by job so batches of a job stay ordered.
func (k *KafkaGLReposter) RepostVouchers(ctx context.Context, req repost.GLRepostRequest) error {
	if len(req.Vouchers) == 0 {
		return nil
	}
	evt := NewGLRepostEvent(req)
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("integration: encode gl repost event: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.JobID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventGLRepostRequested)},
			{Key: "event_id", Value: []byte(evt.ID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("integration: publish gl repost: %w", err)
	}
	k.logger.InfoContext(ctx, "gl repost published",
		slog.String("job_id", req.JobID),
		slog.Int("batch", req.Batch),
		slog.Int("vouchers", len(req.Vouchers)),
	)
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaGLReposter) Close() error {
	return k.writer.Close()
}

var _ repost.GLReposter = (*KafkaGLReposter)(nil)
