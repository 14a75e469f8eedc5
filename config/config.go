package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	Ops     OpsConfig     `yaml:"ops" envPrefix:"OPS_"`
	Store   StoreConfig   `yaml:"store" envPrefix:"STORE_"`
	Redis   RedisConfig   `yaml:"redis" envPrefix:"REDIS_"`
	Kafka   KafkaConfig   `yaml:"kafka" envPrefix:"KAFKA_"`
	Booking BookingConfig `yaml:"booking" envPrefix:"BOOKING_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

// ServerConfig describes the framed TCP listener clients connect to.
type ServerConfig struct {
	Address         string        `yaml:"address" env:"ADDRESS" validate:"required"`
	Codec           string        `yaml:"codec" env:"CODEC" validate:"oneof=json cbor"`
	MaxFrameBytes   uint32        `yaml:"max_frame_bytes" env:"MAX_FRAME_BYTES" validate:"gt=0"`
	ReadIdleTimeout time.Duration `yaml:"read_idle_timeout" env:"READ_IDLE_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" validate:"gt=0"`
}

type OpsConfig struct {
	Address string `yaml:"address" env:"ADDRESS"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER" validate:"oneof=postgres memory"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxConns int32  `yaml:"max_conns" env:"MAX_CONNS" validate:"gte=0"`
	Migrate  bool   `yaml:"migrate" env:"MIGRATE"`
	// Seed is a YAML file of flights and users loaded into the memory driver.
	Seed string `yaml:"seed" env:"SEED"`
}

func (d StoreConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	if d.MaxConns > 0 {
		dsn += fmt.Sprintf(" pool_max_conns=%d", d.MaxConns)
	}
	return dsn
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR" validate:"required_if=Enabled true"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

type KafkaConfig struct {
	Enabled            bool     `yaml:"enabled" env:"ENABLED"`
	Brokers            []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	OrderEventsTopic   string   `yaml:"order_events_topic" env:"ORDER_EVENTS_TOPIC"`
	NotificationsTopic string   `yaml:"notifications_topic" env:"NOTIFICATIONS_TOPIC"`
	GroupID            string   `yaml:"group_id" env:"GROUP_ID"`
}

type BookingConfig struct {
	// Lock selects per-flight mutual exclusion: "local" keeps it in process,
	// "redis" shares it between server replicas.
	Lock            string        `yaml:"lock" env:"LOCK" validate:"oneof=local redis"`
	LockTTL         time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
	LockRetry       time.Duration `yaml:"lock_retry" env:"LOCK_RETRY"`
	FlightsCacheTTL int           `yaml:"flights_cache_ttl_seconds" env:"FLIGHTS_CACHE_TTL_SECONDS" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=json console"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8888",
			Codec:           "json",
			MaxFrameBytes:   1 << 20,
			ReadIdleTimeout: 0,
			WriteTimeout:    10 * time.Second,
		},
		Ops: OpsConfig{Address: ":9090"},
		Store: StoreConfig{
			Driver:  "postgres",
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			Name:    "flights",
			SSLMode: "disable",
			Migrate: true,
		},
		Kafka: KafkaConfig{
			OrderEventsTopic:   "order-events",
			NotificationsTopic: "order-notifications",
			GroupID:            "flight-notifier",
		},
		Booking: BookingConfig{
			Lock:            "local",
			LockTTL:         10 * time.Second,
			LockRetry:       20 * time.Millisecond,
			FlightsCacheTTL: 30,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig reads the YAML file at path on top of the defaults, then applies
// FLIGHT_* environment overrides and validates the result. A missing file is
// not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "FLIGHT_"}); err != nil {
		return nil, fmt.Errorf("failed to parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
