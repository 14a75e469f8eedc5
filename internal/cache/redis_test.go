package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/EchoWang-1/Flight-Servers/internal/domain"
	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_Miss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(client, time.Minute)
	filter := domain.FlightFilter{FromCity: "北京"}

	mock.ExpectHGet(flightsKey, filter.Key()).RedisNil()

	flights, err := c.GetFlights(context.Background(), filter)
	require.NoError(t, err)
	assert.Nil(t, flights)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_SetThenGet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(client, time.Minute)
	filter := domain.FlightFilter{FromCity: "北京", ToCity: "上海", Date: "2025-07-01"}
	flights := []domain.Flight{{Number: "CA101", FromCity: "北京", ToCity: "上海", Price: decimal.NewFromInt(1200), RemainingSeats: 3}}

	payload, err := json.Marshal(flights)
	require.NoError(t, err)

	mock.ExpectHSet(flightsKey, filter.Key(), payload).SetVal(1)
	mock.ExpectExpire(flightsKey, time.Minute).SetVal(true)
	mock.ExpectHGet(flightsKey, filter.Key()).SetVal(string(payload))

	require.NoError(t, c.SetFlights(context.Background(), filter, flights))

	got, err := c.GetFlights(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CA101", got[0].Number)
	assert.Equal(t, 3, got[0].RemainingSeats)
	assert.True(t, decimal.NewFromInt(1200).Equal(got[0].Price))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_Invalidate(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(client, time.Minute)

	mock.ExpectDel(flightsKey).SetVal(1)
	require.NoError(t, c.InvalidateFlights(context.Background()))

	mock.ExpectDel(flightsKey).SetErr(errors.New("connection refused"))
	assert.Error(t, c.InvalidateFlights(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
