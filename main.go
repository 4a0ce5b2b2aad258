package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ms-registration/internal/analytics"
	analyticsapi "ms-registration/internal/analytics/api"
	"ms-registration/internal/auth"
	"ms-registration/internal/config"
	"ms-registration/internal/database"
	"ms-registration/internal/database/migrations"
	"ms-registration/internal/discount"
	discountdb "ms-registration/internal/discount/db"
	"ms-registration/internal/kafka"
	"ms-registration/internal/logger"
	"ms-registration/internal/notification"
	"ms-registration/internal/payment"
	handlers "ms-registration/internal/payment/handler"
	"ms-registration/internal/payment/services"
	"ms-registration/internal/payment/storage"
	"ms-registration/internal/registration"
	regdb "ms-registration/internal/registration/db"
	regredis "ms-registration/internal/registration/redis"
	"ms-registration/internal/registration/registration_api"
	"ms-registration/internal/tickets/qr"

	"github.com/joho/godotenv"
)

func main() {
	log := logger.NewLogger("registration-service")
	defer log.Close()

	log.Info("APP", "Starting Registration Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("APP", "Verifying database connections")
	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.Options{MigrationsDir: cfg.Database.MigrationsDir, AutoMigrate: true}, log)
		if err := runner.Up(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
		runner.Close()
	}

	redisClient, err := database.ConnectRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("REDIS", err.Error())
	}
	defer redisClient.Close()

	// ---------------- KAFKA ----------------
	var (
		publisher     notification.Publisher
		regEvents     registration.KafkaPublisher
		paymentEvents payment.KafkaPublisher
	)
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
		events := kafka.NewEventPublisher(producer, cfg.Kafka.Topics)
		publisher, regEvents, paymentEvents = producer, events, events
	} else {
		log.Warn("KAFKA", "Kafka disabled: domain events are not published and notifications run in-process")
	}

	// ---------------- NOTIFICATIONS ----------------
	var (
		queue       notification.Queue
		memoryQueue *notification.MemoryQueue
	)
	if cfg.Notification.QueueMode == "kafka" && publisher != nil {
		queue = notification.NewKafkaQueue(publisher, cfg.Kafka.Topics.NotificationTasks)
		log.Info("NOTIFY", fmt.Sprintf("Notification tasks go to topic %s", cfg.Kafka.Topics.NotificationTasks))
	} else {
		memoryQueue = notification.NewMemoryQueue(cfg.Notification.Workers * 64)
		queue = memoryQueue
		log.Info("NOTIFY", fmt.Sprintf("Notification tasks run in-process on %d workers", cfg.Notification.Workers))
	}
	notifier, err := notification.NewFromConfig(cfg, bunDB, publisher, queue, log)
	if err != nil {
		log.Fatal("NOTIFY", err.Error())
	}

	poolDone := make(chan struct{})
	if memoryQueue != nil {
		pool := notification.NewPool(notifier, cfg.Notification, log)
		go func() {
			defer close(poolDone)
			// drains until the queue is closed, independent of the signal context
			if err := pool.Run(context.Background(), memoryQueue.Tasks()); err != nil {
				log.Error("WORKER", fmt.Sprintf("Worker pool stopped: %v", err))
			}
		}()
	} else {
		close(poolDone)
	}

	// ---------------- SERVICES ----------------
	tickets, err := qr.NewQRGenerator(cfg.Tickets.QRSecret, cfg.Tickets.QRSize)
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}
	engine := discount.NewEngine(&discountdb.DB{Bun: bunDB}, log)

	registrations := registration.NewService(
		&regdb.DB{Bun: bunDB},
		regredis.NewRedis(redisClient, cfg.Lock, log),
		engine,
		notifier,
		regEvents,
		tickets,
		log,
	)

	store := storage.NewBunStore(bunDB, log)
	payments := payment.NewService(
		store,
		services.NewGatewayClient(cfg.Gateway, log),
		registrations,
		engine,
		paymentEvents,
		cfg.Gateway.FrontendCallbackURL,
		log,
	)

	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		log.Fatal("AUTH", err.Error())
	}

	router := newRouter(routerDeps{
		cfg:           cfg,
		log:           log,
		verifier:      verifier,
		registrations: registration_api.NewHandler(registrations, notifier, cfg.Auth.StaffRole, log),
		payments:      handlers.NewPaymentHandler(payments, log),
		analytics:     analyticsapi.NewHandler(analytics.NewService(bunDB), cfg.Auth.StaffRole, log),
		health: func(ctx context.Context) error {
			if err := store.HealthCheck(ctx); err != nil {
				return err
			}
			return redisClient.Ping(ctx).Err()
		},
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Registration Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Registration Service shutdown complete")
	}

	if memoryQueue != nil {
		memoryQueue.Close()
	}
	select {
	case <-poolDone:
		log.Info("WORKER", "✅ Notification workers drained")
	case <-ctxShutdown.Done():
		log.Warn("WORKER", "Notification workers still busy at shutdown deadline")
	}
}

// newVerifier prefers OIDC and falls back to HS256 tokens for local setups.
func newVerifier(ctx context.Context, cfg config.AuthConfig) (auth.Verifier, error) {
	if cfg.OIDCIssuer != "" {
		return auth.NewOIDCVerifier(ctx, cfg)
	}
	if cfg.JWTSecret != "" {
		return auth.NewHMACVerifier(cfg.JWTSecret), nil
	}
	return nil, errors.New("set OIDC_ISSUER or JWT_SECRET")
}
