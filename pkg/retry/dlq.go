package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DLQSuffix is appended to a topic name to form its dead letter topic
const DLQSuffix = ".dlq"

// DLQMessage represents a message in the dead letter queue
type DLQMessage struct {
	ID             string            `json:"id"`
	OriginalTopic  string            `json:"original_topic"`
	OriginalKey    string            `json:"original_key"`
	Payload        json.RawMessage   `json:"payload"`
	Headers        map[string]string `json:"headers,omitempty"`
	Error          string            `json:"error"`
	Attempts       int               `json:"attempts"`
	FirstAttemptAt time.Time         `json:"first_attempt_at"`
	LastAttemptAt  time.Time         `json:"last_attempt_at"`
	MovedToDLQAt   time.Time         `json:"moved_to_dlq_at"`
	// Source is the service that gave up on the message
	Source string `json:"source"`
}

// DLQPublisher publishes failed messages to a dead letter queue
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg *DLQMessage) error
}

// JSONProducer is satisfied by *kafka.Producer
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error
}

// KafkaDLQPublisher publishes failed messages to "<topic>.dlq"
type KafkaDLQPublisher struct {
	producer JSONProducer
	source   string
}

// NewKafkaDLQPublisher creates a new Kafka DLQ publisher
func NewKafkaDLQPublisher(producer JSONProducer, source string) *KafkaDLQPublisher {
	return &KafkaDLQPublisher{producer: producer, source: source}
}

// DLQTopic returns the dead letter topic for a given topic
func DLQTopic(originalTopic string) string {
	return originalTopic + DLQSuffix
}

// PublishToDLQ publishes a message to the dead letter queue
func (p *KafkaDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return fmt.Errorf("DLQ message cannot be nil")
	}

	msg.MovedToDLQAt = time.Now()
	msg.Source = p.source

	headers := map[string]string{
		"content_type":   "application/json",
		"original_topic": msg.OriginalTopic,
		"error":          msg.Error,
		"attempts":       strconv.Itoa(msg.Attempts),
		"source":         msg.Source,
	}
	for k, v := range msg.Headers {
		if _, exists := headers[k]; !exists {
			headers["original_"+k] = v
		}
	}

	return p.producer.ProduceJSON(ctx, DLQTopic(msg.OriginalTopic), msg.OriginalKey, msg, headers)
}

// DLQPublishError means a message exhausted its retries and could not be
// parked either, so it must not be acknowledged
type DLQPublishError struct {
	Err   error
	Cause error
}

func (e *DLQPublishError) Error() string {
	return fmt.Sprintf("failed to publish to DLQ: %v (original error: %v)", e.Err, e.Cause)
}

func (e *DLQPublishError) Unwrap() error {
	return e.Err
}

// DLQHandler retries an operation and parks the message in the DLQ when it keeps failing
type DLQHandler struct {
	retrier   *Retrier
	publisher DLQPublisher
	source    string
	// onDLQ is called after a message is handed to the publisher
	onDLQ func(msg *DLQMessage)
}

// DLQHandlerConfig contains configuration for DLQ handler
type DLQHandlerConfig struct {
	RetryConfig *Config
	Source      string
	OnDLQ       func(msg *DLQMessage)
}

// NewDLQHandler creates a new DLQ handler
func NewDLQHandler(publisher DLQPublisher, config *DLQHandlerConfig) *DLQHandler {
	if config == nil {
		config = &DLQHandlerConfig{}
	}
	return &DLQHandler{
		retrier:   New(config.RetryConfig),
		publisher: publisher,
		source:    config.Source,
		onDLQ:     config.OnDLQ,
	}
}

// MessageContext describes the message being processed
type MessageContext struct {
	ID             string
	Topic          string
	Key            string
	Payload        json.RawMessage
	Headers        map[string]string
	FirstAttemptAt time.Time
}

// ProcessWithDLQ runs op with retry. When every attempt fails the message is
// published to the DLQ and the final error is returned.
func (h *DLQHandler) ProcessWithDLQ(ctx context.Context, msgCtx *MessageContext, op Operation) error {
	if msgCtx.FirstAttemptAt.IsZero() {
		msgCtx.FirstAttemptAt = time.Now()
	}

	result := h.retrier.Do(ctx, op)
	if result.Err == nil {
		return nil
	}
	// Shutting down: leave the offset uncommitted so the message is redelivered
	if result.Err == ErrContextCanceled {
		return result.Err
	}

	errMsg := result.Err.Error()
	if result.LastError != nil {
		errMsg = result.LastError.Error()
	}

	dlqMsg := &DLQMessage{
		ID:             msgCtx.ID,
		OriginalTopic:  msgCtx.Topic,
		OriginalKey:    msgCtx.Key,
		Payload:        msgCtx.Payload,
		Headers:        msgCtx.Headers,
		Error:          errMsg,
		Attempts:       result.Attempts,
		FirstAttemptAt: msgCtx.FirstAttemptAt,
		LastAttemptAt:  time.Now(),
		Source:         h.source,
	}

	if publishErr := h.publisher.PublishToDLQ(ctx, dlqMsg); publishErr != nil {
		return &DLQPublishError{Err: publishErr, Cause: result.LastError}
	}

	if h.onDLQ != nil {
		h.onDLQ(dlqMsg)
	}

	return result.Err
}
