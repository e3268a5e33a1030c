// Package audit provides the tamper-evidence signer and the Kafka mirror for key events.
package audit

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/keyguard/internal/config"
	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/logger"
)

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink mirrors persisted key events to a Kafka topic, keyed by key id so the
// events of one key stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	logger logger.Logger
}

var _ service.AuditSink = (*KafkaSink)(nil)

// NewKafkaSink creates a new KafkaSink.
func NewKafkaSink(cfg config.KafkaConfig, log logger.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: false,
	}
	return newKafkaSink(writer, log)
}

func newKafkaSink(w messageWriter, log logger.Logger) *KafkaSink {
	return &KafkaSink{writer: w, logger: log.WithComponent("KafkaSink")}
}

// Publish sends a key event to the topic.
func (p *KafkaSink) Publish(ctx context.Context, event *models.KeyEvent) error {
	bytes, err := json.Marshal(struct {
		*models.KeyEvent
		Signature string `json:"signature,omitempty"`
	}{event, event.Signature})
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.KeyID),
		Value: bytes,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
	if err != nil {
		p.logger.Error(ctx, "failed to write key event to Kafka", err, logger.String("event_id", event.ID))
	}
	return err
}

// Close closes the underlying Kafka writer.
func (p *KafkaSink) Close() error {
	return p.writer.Close()
}
