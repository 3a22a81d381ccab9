// Package audit delivers credential lifecycle events to Kafka, or to the log
// when no broker is configured.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/logger"
)

const (
	headerEventType = "event_type"
	headerSignature = "x-audit-signature"
)

// MessageWriter is the subset of *kafka.Writer used by the producer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer is a Kafka-backed implementation of the AuditService.
// Messages are keyed by owner so that one owner's events stay ordered.
type KafkaProducer struct {
	writer        MessageWriter
	signingSecret string
	logger        logger.Logger
}

var _ service.AuditService = (*KafkaProducer)(nil)

// NewKafkaProducer creates a new KafkaProducer.
func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}
	return NewKafkaProducerWithWriter(writer, cfg.SigningSecret, log)
}

// NewKafkaProducerWithWriter creates a producer over an existing writer.
func NewKafkaProducerWithWriter(writer MessageWriter, signingSecret string, log logger.Logger) *KafkaProducer {
	return &KafkaProducer{
		writer:        writer,
		signingSecret: signingSecret,
		logger:        log.WithComponent("KafkaProducer"),
	}
}

// LogEvent sends an audit event to the Kafka topic.
func (p *KafkaProducer) LogEvent(ctx context.Context, event models.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error(ctx, "Failed to marshal audit event", err)
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.PartitionKey()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(event.EventType)},
		},
	}
	if p.signingSecret != "" {
		msg.Headers = append(msg.Headers, kafka.Header{
			Key:   headerSignature,
			Value: []byte(SignaturePayload(payload, p.signingSecret)),
		})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error(ctx, "Failed to write audit event to Kafka", err,
			logger.String("event_id", event.EventID),
			logger.String("event_type", string(event.EventType)),
		)
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
