package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/EchoWang-1/Flight-Servers/config"
	"github.com/EchoWang-1/Flight-Servers/internal/kafka"
	"github.com/EchoWang-1/Flight-Servers/internal/logging"
	"github.com/EchoWang-1/Flight-Servers/internal/notify"
	kafkaGo "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// The worker consumes order notifications published by the flight server
// and forwards them to passengers.
func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Fatal("kafka brokers are not configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic)
	defer consumer.Close()

	sender := notify.NewSender(logger.Named("notify"))

	logger.Info("notification worker started",
		zap.String("topic", cfg.Kafka.NotificationsTopic),
		zap.String("group", cfg.Kafka.GroupID),
	)
	err = consumer.Consume(ctx, func(ctx context.Context, msg kafkaGo.Message) error {
		event, err := kafka.DecodeOrderEvent(msg)
		if err != nil {
			logger.Warn("skipping undecodable event", zap.Int64("offset", msg.Offset), zap.Error(err))
			return nil
		}
		return sender.Send(ctx, event)
	})
	if err != nil {
		logger.Error("consumer stopped", zap.Error(err))
		return
	}
	logger.Info("notification worker stopped")
}
