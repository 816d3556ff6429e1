package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prohmpiriya/contacts-api/internal/metrics"
	"github.com/prohmpiriya/contacts-api/pkg/kafka"
	"github.com/prohmpiriya/contacts-api/pkg/logger"
	"github.com/prohmpiriya/contacts-api/pkg/retry"
	"github.com/prohmpiriya/contacts-api/pkg/telemetry"
	"go.uber.org/zap"
)

// recordSource is satisfied by *kafka.Consumer
type recordSource interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	CommitRecords(ctx context.Context, records []*kafka.Record) error
}

// dlqProcessor is satisfied by *retry.DLQHandler
type dlqProcessor interface {
	ProcessWithDLQ(ctx context.Context, msgCtx *retry.MessageContext, op retry.Operation) error
}

// Worker consumes the email topic and delivers each message through a Sender.
// Messages that keep failing are parked in the dead letter topic.
type Worker struct {
	source recordSource
	sender Sender
	dlq    dlqProcessor
	log    *logger.Logger

	pollBackoff time.Duration
}

// NewWorker creates a new Worker
func NewWorker(source recordSource, sender Sender, dlq dlqProcessor, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Get()
	}
	return &Worker{
		source:      source,
		sender:      sender,
		dlq:         dlq,
		log:         log.With(zap.String("component", "mail_worker")),
		pollBackoff: time.Second,
	}
}

// Run polls until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		records, err := w.source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("Failed to poll email topic", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollBackoff):
			}
			continue
		}
		if len(records) == 0 {
			continue
		}

		done := w.processBatch(ctx, records)
		if len(done) == 0 {
			continue
		}
		if err := w.source.CommitRecords(ctx, done); err != nil {
			w.log.Error("Failed to commit offsets", zap.Int("records", len(done)), zap.Error(err))
		}
	}
}

// processBatch handles records in order and returns those safe to commit.
// It stops at the first record that is neither delivered nor parked.
func (w *Worker) processBatch(ctx context.Context, records []*kafka.Record) []*kafka.Record {
	done := make([]*kafka.Record, 0, len(records))
	for _, record := range records {
		if err := w.process(ctx, record); err != nil {
			if !errors.Is(err, retry.ErrContextCanceled) {
				w.log.Error("Mail message not delivered or parked",
					zap.String("topic", record.Topic),
					zap.Int64("offset", record.Offset),
					zap.Error(err),
				)
			}
			return done
		}
		done = append(done, record)
	}
	return done
}

// process returns nil once the record is delivered or handed to the DLQ
func (w *Worker) process(ctx context.Context, record *kafka.Record) error {
	ctx = telemetry.ExtractTraceContext(ctx, record.Headers)
	ctx, span := telemetry.StartSpan(ctx, "mailer.worker.process")
	defer span.End()

	msgCtx := &retry.MessageContext{
		ID:      record.Headers["message_id"],
		Topic:   record.Topic,
		Key:     string(record.Key),
		Payload: json.RawMessage(record.Value),
		Headers: record.Headers,
	}

	var kind string
	err := w.dlq.ProcessWithDLQ(ctx, msgCtx, func(ctx context.Context) error {
		msg, err := DecodeMessage(record.Value)
		if err != nil {
			// Redelivery cannot fix a malformed payload
			return retry.Permanent(err)
		}
		kind = string(msg.Kind)
		return w.sender.Send(ctx, msg)
	})

	switch {
	case err == nil:
		metrics.RecordMailDispatch(kind, nil)
		w.log.InfoContext(ctx, "Email delivered", zap.String("message_id", msgCtx.ID), zap.String("kind", kind))
		return nil
	case errors.Is(err, retry.ErrContextCanceled):
		return err
	case isDLQPublishError(err):
		return err
	default:
		// Parked in the DLQ; the offset can move on
		metrics.RecordMailDispatch(kind, err)
		w.log.WarnContext(ctx, "Email moved to dead letter topic",
			zap.String("message_id", msgCtx.ID),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return nil
	}
}

func isDLQPublishError(err error) bool {
	var pubErr *retry.DLQPublishError
	return errors.As(err, &pubErr)
}
