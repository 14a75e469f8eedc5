package flights

import (
	"context"
	"fmt"

	"github.com/EchoWang-1/Flight-Servers/internal/domain"
	"github.com/EchoWang-1/Flight-Servers/internal/repository"
	"go.uber.org/zap"
)

type FlightUseCase interface {
	Search(ctx context.Context, username string, filter domain.FlightFilter) ([]FlightResult, error)
}

// FlightResult is a flight as seen by one user.
type FlightResult struct {
	domain.Flight
	// Booked reports whether the user holds a pending order on the flight.
	Booked bool
}

type FlightCache interface {
	GetFlights(ctx context.Context, filter domain.FlightFilter) ([]domain.Flight, error)
	SetFlights(ctx context.Context, filter domain.FlightFilter, flights []domain.Flight) error
}

type FlightService struct {
	flights repository.FlightRepository
	orders  repository.OrderRepository
	cache   FlightCache
	logger  *zap.Logger
}

func NewFlightService(flights repository.FlightRepository, orders repository.OrderRepository, cache FlightCache, logger *zap.Logger) *FlightService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlightService{flights: flights, orders: orders, cache: cache, logger: logger}
}

// Search lists flights matching filter. When username is set, each result
// is marked with whether that user already booked it.
func (s *FlightService) Search(ctx context.Context, username string, filter domain.FlightFilter) ([]FlightResult, error) {
	list, err := s.list(ctx, filter)
	if err != nil {
		return nil, err
	}

	booked := map[string]bool{}
	if username != "" {
		booked, err = s.orders.PendingFlights(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("failed to load booked flights: %w", err)
		}
	}

	results := make([]FlightResult, 0, len(list))
	for _, f := range list {
		results = append(results, FlightResult{Flight: f, Booked: booked[f.Number]})
	}
	return results, nil
}

func (s *FlightService) list(ctx context.Context, filter domain.FlightFilter) ([]domain.Flight, error) {
	if s.cache != nil {
		cached, err := s.cache.GetFlights(ctx, filter)
		if err != nil {
			s.logger.Warn("flights cache read failed", zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	list, err := s.flights.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list flights: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetFlights(ctx, filter, list); err != nil {
			s.logger.Warn("flights cache write failed", zap.Error(err))
		}
	}
	return list, nil
}

var _ FlightUseCase = (*FlightService)(nil)
