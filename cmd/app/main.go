package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EchoWang-1/Flight-Servers/config"
	"github.com/EchoWang-1/Flight-Servers/internal/api"
	"github.com/EchoWang-1/Flight-Servers/internal/bootstrap"
	"github.com/EchoWang-1/Flight-Servers/internal/cache"
	"github.com/EchoWang-1/Flight-Servers/internal/dispatch"
	"github.com/EchoWang-1/Flight-Servers/internal/kafka"
	"github.com/EchoWang-1/Flight-Servers/internal/lock"
	"github.com/EchoWang-1/Flight-Servers/internal/logging"
	"github.com/EchoWang-1/Flight-Servers/internal/metrics"
	"github.com/EchoWang-1/Flight-Servers/internal/ops"
	"github.com/EchoWang-1/Flight-Servers/internal/repository"
	"github.com/EchoWang-1/Flight-Servers/internal/server"
	"github.com/EchoWang-1/Flight-Servers/internal/service/booking"
	"github.com/EchoWang-1/Flight-Servers/internal/service/flights"
	"github.com/EchoWang-1/Flight-Servers/internal/service/users"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServerMetrics(reg)

	ledgerOpts := []booking.LedgerOption{
		booking.WithLogger(logger.Named("ledger")),
		booking.WithMetrics(serverMetrics),
	}

	var (
		flightCache flights.FlightCache
		locker      lock.Locker
	)
	if cfg.Redis.Enabled {
		redisCache := cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Booking.FlightsCacheTTL)*time.Second)
		defer redisCache.Close()
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis not reachable yet", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		flightCache = redisCache
		ledgerOpts = append(ledgerOpts, booking.WithCache(redisCache))

		if cfg.Booking.Lock == "redis" {
			locker = lock.NewRedisLocker(redisCache.Client(), "lock:flight:",
				lock.WithTTL(cfg.Booking.LockTTL),
				lock.WithRetryInterval(cfg.Booking.LockRetry),
			)
		}
	} else if cfg.Booking.Lock == "redis" {
		return fmt.Errorf("booking.lock is redis but redis is disabled")
	}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		if err := producer.CheckConnection(ctx); err != nil {
			logger.Warn("kafka not reachable yet", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
		}
		ledgerOpts = append(ledgerOpts,
			booking.WithProducer(producer, cfg.Kafka.OrderEventsTopic),
			booking.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
		)
	}

	ledger := booking.NewLedger(store, locker, ledgerOpts...)
	flightService := flights.NewFlightService(store.Flights(), store.Orders(), flightCache, logger.Named("flights"))
	userService := users.NewUserService(store.Users(), users.WithLogger(logger.Named("users")))

	dispatcher := dispatch.New(dispatch.WithObserver(serverMetrics))
	api.NewHandler(ledger, flightService, userService, logger.Named("api")).Register(dispatcher)

	flightServer, err := server.NewFromConfig(cfg.Server, dispatcher,
		server.WithLogger(logger.Named("server")),
		server.WithMetrics(serverMetrics),
	)
	if err != nil {
		return err
	}

	return bootstrap.Run(ctx, bootstrap.Servers{
		Flight:     flightServer,
		FlightAddr: cfg.Server.Address,
		Ops:        ops.NewRouter(store, reg, flightService),
		OpsAddr:    cfg.Ops.Address,
	}, logger)
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (repository.Store, error) {
	if cfg.Driver == "memory" {
		store := repository.NewMemoryStore()
		if cfg.Seed != "" {
			seed, err := repository.LoadSeed(cfg.Seed)
			if err != nil {
				return nil, err
			}
			if err := seed.Apply(store); err != nil {
				return nil, err
			}
			logger.Info("memory store seeded",
				zap.String("path", cfg.Seed),
				zap.Int("flights", len(seed.Flights)),
				zap.Int("users", len(seed.Users)),
			)
		}
		return store, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Migrate {
		if err := repository.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("database migrated")
	}
	return repository.NewPGStore(pool), nil
}
