package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"ms-registration/internal/config"
	"ms-registration/internal/database"
	"ms-registration/internal/kafka"
	"ms-registration/internal/logger"
	"ms-registration/internal/notification"

	"github.com/joho/godotenv"
)

// The worker consumes the notification task topic. Each Kafka consumer in the
// group handles its partitions sequentially and commits after delivery, so
// parallelism comes from running cfg.Notification.Workers consumers.
func main() {
	log := logger.NewLogger("notification-worker")
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	defer producer.Close()
	topics := []string{cfg.Kafka.Topics.NotificationTasks, cfg.Kafka.Topics.PushNotifications}
	if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, log); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	}

	// Tasks are only consumed here; nothing is enqueued by the worker itself.
	svc, err := notification.NewFromConfig(cfg, bunDB, producer, notification.NewKafkaQueue(producer, cfg.Kafka.Topics.NotificationTasks), log)
	if err != nil {
		log.Fatal("NOTIFY", err.Error())
	}
	pool := notification.NewPool(svc, cfg.Notification, log)

	workers := cfg.Notification.Workers
	if workers < 1 {
		workers = 1
	}
	sources := make([]notification.MessageSource, 0, workers)
	for i := 0; i < workers; i++ {
		c := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.NotificationTasks, cfg.Kafka.GroupID, log)
		defer c.Close()
		sources = append(sources, c)
	}

	log.Info("APP", fmt.Sprintf("🚀 Notification worker consuming %s with %d consumers", cfg.Kafka.Topics.NotificationTasks, workers))
	if err := pool.RunSources(ctx, sources...); err != nil {
		log.Error("WORKER", fmt.Sprintf("Worker stopped: %v", err))
	}
	log.Info("APP", "✅ Notification worker shutdown complete")
}
