package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/EchoWang-1/Flight-Servers/config"
	"github.com/EchoWang-1/Flight-Servers/internal/domain"
	"github.com/redis/go-redis/v9"
)

// flightsKey holds one field per search filter, so a single DEL drops every
// cached search once inventory changes.
const flightsKey = "cache:flights"

type RedisCache struct {
	client     *redis.Client
	flightsTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, flightsTTL time.Duration) *RedisCache {
	return NewRedisCacheFromClient(
		redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		flightsTTL,
	)
}

func NewRedisCacheFromClient(client *redis.Client, flightsTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, flightsTTL: flightsTTL}
}

// Client exposes the underlying connection so other Redis users (the flight
// locker) share one pool.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// GetFlights returns nil, nil on a cache miss.
func (c *RedisCache) GetFlights(ctx context.Context, filter domain.FlightFilter) ([]domain.Flight, error) {
	data, err := c.client.HGet(ctx, flightsKey, filter.Key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var flights []domain.Flight
	if err := json.Unmarshal(data, &flights); err != nil {
		return nil, err
	}
	return flights, nil
}

func (c *RedisCache) SetFlights(ctx context.Context, filter domain.FlightFilter, flights []domain.Flight) error {
	payload, err := json.Marshal(flights)
	if err != nil {
		return err
	}
	if err := c.client.HSet(ctx, flightsKey, filter.Key(), payload).Err(); err != nil {
		return err
	}
	return c.client.Expire(ctx, flightsKey, c.flightsTTL).Err()
}

func (c *RedisCache) InvalidateFlights(ctx context.Context) error {
	return c.client.Del(ctx, flightsKey).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
