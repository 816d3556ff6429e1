package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/contacts-api/internal/di"
	"github.com/prohmpiriya/contacts-api/internal/handler"
	"github.com/prohmpiriya/contacts-api/internal/hasher"
	"github.com/prohmpiriya/contacts-api/internal/mailer"
	"github.com/prohmpiriya/contacts-api/internal/metrics"
	"github.com/prohmpiriya/contacts-api/internal/repository"
	"github.com/prohmpiriya/contacts-api/internal/storage"
	"github.com/prohmpiriya/contacts-api/internal/token"
	"github.com/prohmpiriya/contacts-api/pkg/config"
	"github.com/prohmpiriya/contacts-api/pkg/database"
	"github.com/prohmpiriya/contacts-api/pkg/kafka"
	"github.com/prohmpiriya/contacts-api/pkg/logger"
	"github.com/prohmpiriya/contacts-api/pkg/middleware"
	pkgredis "github.com/prohmpiriya/contacts-api/pkg/redis"
	"github.com/prohmpiriya/contacts-api/pkg/retry"
	"github.com/prohmpiriya/contacts-api/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const serviceName = "contacts-api"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logLevel := "info"
	if cfg.App.Debug {
		logLevel = "debug"
	}
	logCfg := &logger.Config{
		Level:       logLevel,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Contacts API...", zap.String("version", cfg.App.Version))

	ctx := context.Background()

	// Initialize OpenTelemetry
	telemetryCfg := &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}
	if _, err := telemetry.Init(ctx, telemetryCfg); err != nil {
		appLog.Warn("Failed to initialize telemetry", zap.Error(err))
	} else if telemetryCfg.Enabled {
		appLog.Info("Telemetry initialized", zap.String("collector", telemetryCfg.CollectorAddr))
	}
	defer telemetry.Shutdown(ctx)

	// Apply schema migrations before the pool starts serving
	if cfg.Database.AutoMigrate {
		if err := migrateUp(cfg.Database.URL()); err != nil {
			appLog.Fatal("Database migration failed", zap.Error(err))
		}
		appLog.Info("Database migrations applied")
	}

	// Initialize database connection
	dbCfg := database.NewPostgresConfig(cfg)
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal("Database connection failed", zap.Error(err))
	}
	defer db.Close()
	appLog.Info("Database connected", zap.Int32("min_conns", dbCfg.MinConns), zap.Int32("max_conns", dbCfg.MaxConns))

	// Initialize Redis connection
	redisCfg := &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    cfg.Redis.ConnectRetries,
		RetryInterval: cfg.Redis.ConnectRetryInterval,
	}
	redisClient, err := pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		appLog.Fatal("Redis connection failed", zap.Error(err))
	}
	defer redisClient.Close()
	appLog.Info("Redis connected", zap.String("addr", redisCfg.Addr()))

	sessionCache := repository.NewRedisSessionCache(redisClient)
	if err := sessionCache.LoadScripts(ctx); err != nil {
		// EvalWithFallback reloads on demand, and GETDEL covers a server without scripting
		appLog.Warn("Failed to preload session cache scripts", zap.Error(err))
	}

	// Initialize avatar storage
	avatars, err := storage.NewMinioStorage(ctx, &storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		PublicURL: cfg.Storage.PublicURL,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		appLog.Fatal("Avatar storage initialization failed", zap.Error(err))
	}

	// Initialize mail dispatch
	dispatcher, closeDispatcher, err := newDispatcher(ctx, cfg, appLog)
	if err != nil {
		appLog.Fatal("Mail dispatcher initialization failed", zap.Error(err))
	}

	tokens, err := token.NewManager(&token.Config{
		Secret:     cfg.JWT.Secret,
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.AccessTokenTTL,
		RefreshTTL: cfg.JWT.RefreshTokenTTL,
		ResetTTL:   cfg.JWT.ResetTokenTTL,
		ConfirmTTL: cfg.JWT.ConfirmTokenTTL,
	})
	if err != nil {
		appLog.Fatal("Token manager initialization failed", zap.Error(err))
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.RegisterMetrics(registry)

	// Build dependency injection container
	container := di.NewContainer(&di.ContainerConfig{
		UserRepo:     repository.NewPostgresUserRepository(db.Pool()),
		ContactRepo:  repository.NewPostgresContactRepository(db.Pool()),
		SessionCache: sessionCache,
		Hasher:       hasher.NewBcryptHasher(cfg.JWT.BcryptCost),
		Tokens:       tokens,
		Dispatcher:   dispatcher,
		Avatars:      avatars,
		Logger:       appLog,
		ServiceName:  serviceName,
		MailBaseURL:  cfg.Mail.BaseURL,
		ReadinessChecks: map[string]handler.Pinger{
			"database": db,
			"redis":    redisClient,
		},
	})

	// Setup Gin
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(appLog))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSAllowOrigins)))
	router.Use(telemetry.TracingMiddleware(serviceName))
	router.Use(metrics.GinMiddleware())

	// /users/me limiter
	meLimiterCfg := middleware.DefaultRateLimitConfig()
	meLimiterCfg.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
	meLimiterCfg.BurstSize = cfg.RateLimit.BurstSize
	meLimiterCfg.UseRedis = cfg.RateLimit.UseRedis
	meLimiterCfg.RedisClient = redisClient
	meLimiterCfg.KeyPrefix = "ratelimit:users_me:"
	meLimiter := middleware.NewRateLimiter(meLimiterCfg)
	defer meLimiter.Stop()

	// Health check endpoints
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	requireAuth := handler.RequireAuth(container.AuthService)

	// API routes
	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/signup", container.AuthHandler.Signup)
			auth.POST("/login", container.AuthHandler.Login)
			auth.POST("/refresh-token", container.AuthHandler.RefreshToken)
			auth.GET("/confirmed_email/:token", container.AuthHandler.ConfirmEmail)
			auth.POST("/password-reset/request", container.AuthHandler.RequestPasswordReset)
			auth.POST("/password-reset/confirm", container.AuthHandler.ConfirmPasswordReset)
		}

		users := v1.Group("/users")
		{
			users.GET("/me", meLimiter.Handler(), requireAuth, container.UserHandler.Me)
			users.PATCH("/avatar", requireAuth, container.UserHandler.UpdateAvatar)
		}

		contacts := v1.Group("/contacts", requireAuth)
		{
			contacts.POST("", middleware.Idempotency(middleware.IdempotencyConfig{
				Store: redisClient,
				Scope: handler.CurrentUserID,
			}), container.ContactHandler.Create)
			contacts.GET("", container.ContactHandler.List)
			contacts.GET("/upcoming/birthdays", container.ContactHandler.UpcomingBirthdays)
			contacts.GET("/:id", container.ContactHandler.Get)
			contacts.PUT("/:id", container.ContactHandler.Update)
			contacts.DELETE("/:id", container.ContactHandler.Delete)
		}
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLog.Info("Contacts API listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}

	// Requests are done; flush the emails they queued
	if err := closeDispatcher(shutdownCtx); err != nil {
		appLog.Warn("Mail dispatcher did not drain", zap.Error(err))
	}

	appLog.Info("Server exited gracefully")
}

func migrateUp(databaseURL string) error {
	migrator, err := database.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer migrator.Close()
	return migrator.Up()
}

// newDispatcher publishes to Kafka when enabled, otherwise sends in-process.
// The returned close function drains pending messages.
func newDispatcher(ctx context.Context, cfg *config.Config, log *logger.Logger) (mailer.Dispatcher, func(context.Context) error, error) {
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
			Brokers:       cfg.Kafka.Brokers,
			ClientID:      cfg.Kafka.ClientID,
			MaxRetries:    3,
			RetryInterval: time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("Mail dispatch via kafka", zap.String("topic", cfg.Kafka.EmailTopic))
		closeFn := func(ctx context.Context) error {
			defer producer.Close()
			return producer.Flush(ctx)
		}
		return mailer.NewKafkaDispatcher(producer, cfg.Kafka.EmailTopic, log), closeFn, nil
	}

	if cfg.Mail.Host == "" {
		log.Warn("MAIL_HOST not set, emails are logged instead of sent")
	}
	sender := mailer.NewSender(smtpConfig(cfg), log)
	d := mailer.NewAsyncDispatcher(sender, &mailer.AsyncDispatcherConfig{
		Workers:     cfg.Mail.Workers,
		QueueSize:   cfg.Mail.Queue,
		RetryConfig: retry.EmailConfig(),
	}, log)
	return d, d.Close, nil
}

func smtpConfig(cfg *config.Config) *mailer.SMTPConfig {
	return &mailer.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		FromName: cfg.Mail.FromName,
		StartTLS: cfg.Mail.StartTLS,
	}
}
