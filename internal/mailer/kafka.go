package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prohmpiriya/contacts-api/pkg/kafka"
	"github.com/prohmpiriya/contacts-api/pkg/logger"
	"github.com/prohmpiriya/contacts-api/pkg/telemetry"
	"go.uber.org/zap"
)

// asyncProducer is satisfied by *kafka.Producer
type asyncProducer interface {
	ProduceAsync(ctx context.Context, msg *kafka.Message, onDone func(error))
}

// KafkaDispatcher publishes messages to the email topic for cmd/mail-worker
type KafkaDispatcher struct {
	producer asyncProducer
	topic    string
	log      *logger.Logger
}

// NewKafkaDispatcher creates a new KafkaDispatcher
func NewKafkaDispatcher(producer asyncProducer, topic string, log *logger.Logger) *KafkaDispatcher {
	if log == nil {
		log = logger.Get()
	}
	return &KafkaDispatcher{
		producer: producer,
		topic:    topic,
		log:      log.With(zap.String("component", "mail_publisher")),
	}
}

// Dispatch produces msg keyed by recipient. Produce failures are only logged.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, msg *Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal mail message: %w", err)
	}

	record := &kafka.Message{
		Topic:   d.topic,
		Key:     []byte(msg.To),
		Value:   value,
		Headers: telemetry.InjectTraceContext(ctx),
	}
	record.Headers["message_id"] = msg.ID
	record.Headers["kind"] = string(msg.Kind)

	// The request context ends with the response; the produce must outlive it.
	produceCtx := context.WithoutCancel(ctx)
	d.producer.ProduceAsync(produceCtx, record, func(err error) {
		if err != nil {
			d.log.ErrorContext(produceCtx, "Failed to publish mail message",
				zap.String("message_id", msg.ID),
				zap.String("topic", d.topic),
				zap.Error(err),
			)
		}
	})
	return nil
}

// DecodeMessage parses a record value produced by KafkaDispatcher
func DecodeMessage(value []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode mail message: %w", err)
	}
	if msg.Kind != KindConfirmEmail && msg.Kind != KindResetPassword {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	if msg.To == "" {
		return nil, fmt.Errorf("mail message %s has no recipient", msg.ID)
	}
	return &msg, nil
}
