package mailer

import (
	"context"
	"sync"
	"time"

	"github.com/prohmpiriya/contacts-api/pkg/logger"
	"github.com/prohmpiriya/contacts-api/pkg/retry"
	"go.uber.org/zap"
)

// AsyncDispatcherConfig holds configuration for AsyncDispatcher
type AsyncDispatcherConfig struct {
	Workers     int
	QueueSize   int
	RetryConfig *retry.Config
}

// AsyncDispatcher queues messages and delivers them from a fixed worker pool
type AsyncDispatcher struct {
	sender  Sender
	queue   chan *Message
	retrier *retry.Retrier
	log     *logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	// ctx is cancelled when Close gives up waiting, aborting in-flight retries
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAsyncDispatcher creates a dispatcher and starts its workers
func NewAsyncDispatcher(sender Sender, cfg *AsyncDispatcherConfig, log *logger.Logger) *AsyncDispatcher {
	if cfg == nil {
		cfg = &AsyncDispatcherConfig{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = retry.EmailConfig()
	}
	if log == nil {
		log = logger.Get()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &AsyncDispatcher{
		sender:  sender,
		queue:   make(chan *Message, cfg.QueueSize),
		retrier: retry.New(cfg.RetryConfig),
		log:     log.With(zap.String("component", "mail_dispatcher")),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch enqueues msg. A full queue drops the message rather than block the caller.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, msg *Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- msg:
		return nil
	default:
		d.log.WarnContext(ctx, "Mail queue full, dropping message",
			zap.String("message_id", msg.ID),
			zap.String("kind", string(msg.Kind)),
		)
		return ErrQueueFull
	}
}

func (d *AsyncDispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *AsyncDispatcher) deliver(msg *Message) {
	result := d.retrier.DoWithCallback(d.ctx, func(ctx context.Context) error {
		return d.sender.Send(ctx, msg)
	}, func(attempt int, err error, next time.Duration) {
		d.log.Warn("Mail delivery failed, retrying",
			zap.String("message_id", msg.ID),
			zap.Int("attempt", attempt),
			zap.Duration("next_retry", next),
			zap.Error(err),
		)
	})

	if result.Err != nil {
		d.log.Error("Mail delivery abandoned",
			zap.String("message_id", msg.ID),
			zap.String("kind", string(msg.Kind)),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.LastError),
		)
		return
	}
	d.log.Debug("Mail delivered", zap.String("message_id", msg.ID), zap.Int("attempts", result.Attempts))
}

// Close stops accepting messages and waits for the queue to drain.
// If ctx ends first, in-flight retries are aborted.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
