package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prohmpiriya/contacts-api/internal/mailer"
	"github.com/prohmpiriya/contacts-api/pkg/config"
	"github.com/prohmpiriya/contacts-api/pkg/kafka"
	"github.com/prohmpiriya/contacts-api/pkg/logger"
	"github.com/prohmpiriya/contacts-api/pkg/retry"
	"github.com/prohmpiriya/contacts-api/pkg/telemetry"
	"go.uber.org/zap"
)

const serviceName = "mail-worker"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       "info",
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Mail Worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetry.Shutdown(context.Background())

	if len(cfg.Kafka.Brokers) == 0 {
		appLog.Fatal("KAFKA_BROKERS is required for the mail worker")
	}

	// Initialize Kafka consumer
	consumer, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.ConsumerGroup,
		Topics:         []string{cfg.Kafka.EmailTopic},
		ClientID:       serviceName,
		MaxRetries:     3,
		RetryInterval:  2 * time.Second,
		SessionTimeout: 30 * time.Second,
	})
	if err != nil {
		appLog.Fatal("Failed to create Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	// Producer for the dead letter topic
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      serviceName,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		appLog.Fatal("Failed to create Kafka producer", zap.Error(err))
	}
	defer producer.Close()
	appLog.Info("Kafka connected",
		zap.String("topic", cfg.Kafka.EmailTopic),
		zap.String("dlq_topic", retry.DLQTopic(cfg.Kafka.EmailTopic)),
	)

	if cfg.Mail.Host == "" {
		appLog.Warn("MAIL_HOST not set, emails are logged instead of sent")
	}
	sender := mailer.NewSender(&mailer.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		FromName: cfg.Mail.FromName,
		StartTLS: cfg.Mail.StartTLS,
	}, appLog)

	dlq := retry.NewDLQHandler(retry.NewKafkaDLQPublisher(producer, serviceName), &retry.DLQHandlerConfig{
		RetryConfig: retry.EmailConfig(),
		Source:      serviceName,
	})

	worker := mailer.NewWorker(consumer, sender, dlq, appLog)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()
	appLog.Info("Mail worker started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down mail worker...")
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		appLog.Warn("Mail worker did not stop in time")
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := producer.Flush(flushCtx); err != nil {
		appLog.Warn("Failed to flush producer", zap.Error(err))
	}
	appLog.Info("Mail worker stopped")
}
