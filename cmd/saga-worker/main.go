package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prohmpiriya/booking-orchestrator/internal/client"
	"github.com/prohmpiriya/booking-orchestrator/internal/config"
	"github.com/prohmpiriya/booking-orchestrator/internal/events"
	"github.com/prohmpiriya/booking-orchestrator/internal/health"
	"github.com/prohmpiriya/booking-orchestrator/internal/saga"
	"github.com/prohmpiriya/booking-orchestrator/internal/store"
	"github.com/prohmpiriya/booking-orchestrator/pkg/database"
	"github.com/prohmpiriya/booking-orchestrator/pkg/kafka"
	"github.com/prohmpiriya/booking-orchestrator/pkg/logger"
	"github.com/prohmpiriya/booking-orchestrator/pkg/redis"
	"github.com/prohmpiriya/booking-orchestrator/pkg/telemetry"
)

// driveRequestsTopic is where a booking_id is enqueued for the worker pool
// to drive. Nothing in this binary publishes to it: the Facade built below
// drives inline through engine.Drive, so messages come from outside.
const driveRequestsTopic = "booking-orchestrator.drive_requests"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: cfg.App.Name,
		Development: cfg.App.Environment == "development",
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("starting saga worker", "version", cfg.App.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTel.Enabled {
		if _, err := telemetry.Init(ctx, &telemetry.Config{
			Enabled:       true,
			ServiceName:   cfg.App.Name,
			CollectorAddr: cfg.OTel.CollectorAddr,
			SampleRatio:   cfg.OTel.SampleRatio,
			Environment:   cfg.App.Environment,
		}); err != nil {
			appLog.Warn("tracer init failed, continuing without tracing", "error", err.Error())
		} else {
			defer telemetry.Shutdown(ctx)
			appLog.Info("opentelemetry tracing initialized")
		}
	}

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		MaxRetries:      3,
		RetryInterval:   2 * time.Second,
		EnableTracing:   cfg.OTel.Enabled,
		ServiceName:     cfg.App.Name,
	})
	if err != nil {
		appLog.Fatal("failed to connect to postgres", "error", err.Error())
	}
	defer db.Close()
	appLog.Info("postgres connected")

	bookingStore := store.NewPostgresStore(db.Pool())

	redisClient, err := redis.NewClient(ctx, &redis.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		appLog.Fatal("failed to connect to redis", "error", err.Error())
	}
	defer redisClient.Close()
	appLog.Info("redis connected")

	leaseMgr := store.NewRedisLeaseManager(redisClient)

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID,
		MaxRetries:    3,
		RetryInterval: time.Second,
	})
	if err != nil {
		appLog.Fatal("failed to create kafka producer", "error", err.Error())
	}
	defer producer.Close()
	appLog.Info("kafka producer connected")

	stripeTransport, err := client.NewStripeTransport(client.StripeConfig{
		SecretKey:            cfg.Stripe.SecretKey,
		CurrencyDefault:      cfg.Stripe.CurrencyDefault,
		IdempotencyKeyPrefix: cfg.Stripe.IdempotencyKeyPrefix,
	})
	if err != nil {
		appLog.Fatal("failed to configure stripe transport", "error", err.Error())
	}

	serviceClient := client.New(map[string]client.Transport{
		"flight":       client.NewHTTPTransport(cfg.Client.FlightBaseURL, cfg.Client.RequestTimeout),
		"hotel":        client.NewHTTPTransport(cfg.Client.HotelBaseURL, cfg.Client.RequestTimeout),
		"car":          client.NewHTTPTransport(cfg.Client.CarBaseURL, cfg.Client.RequestTimeout),
		"notification": client.NewHTTPTransport(cfg.Client.NotificationBaseURL, cfg.Client.RequestTimeout),
		"payment":      stripeTransport,
	}, client.Config{Deadline: cfg.Client.RequestTimeout})

	workerID := cfg.App.Name + "-" + uuid.New().String()[:8]
	engineCfg := saga.DefaultEngineConfig(workerID)
	engineCfg.LeaseTTL = cfg.Lease.TTL
	engine := saga.NewEngine(bookingStore, serviceClient, engineCfg)
	facade := saga.NewFacade(bookingStore, engine.Drive)

	drainer := events.NewOutboxDrainer(bookingStore, producer, events.DefaultDrainerConfig())
	drainer.Start(ctx)
	defer drainer.Stop()
	appLog.Info("outbox drainer started")

	recovery := saga.NewRecoveryLoop(bookingStore, engine.Drive, cfg.Lease.ScanInterval)
	go recovery.Run(ctx)
	defer recovery.Stop()
	appLog.Info("stranded-lease recovery loop started")

	pool, err := saga.NewWorkerPool(ctx, engine, saga.WorkerPoolConfig{
		Brokers:     cfg.Kafka.Brokers,
		GroupID:     cfg.Kafka.ConsumerGroup,
		Topic:       driveRequestsTopic,
		ClientID:    cfg.Kafka.ClientID,
		Concurrency: 16,
	})
	if err != nil {
		appLog.Fatal("failed to start worker pool", "error", err.Error())
	}
	pool.Start(ctx)
	defer pool.Stop()
	appLog.Info("saga worker pool started", "topic", driveRequestsTopic)

	healthHandler := health.NewHandler(db, redisClient, producer)
	router := gin.New()
	router.Use(gin.Recovery())
	healthHandler.Register(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	go func() {
		appLog.Info("health server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error("health server error", "error", err.Error())
		}
	}()

	_ = leaseMgr // fast-path lock available to callers outside the aggregate's own embedded lease; not required by Drive itself
	_ = facade   // wired by whatever front door (an API gateway process, a CLI) submits/cancels/modifies bookings against this store

	appLog.Info("saga worker started successfully", "worker_id", workerID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("shutting down saga worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	appLog.Info("saga worker exited gracefully")
}
