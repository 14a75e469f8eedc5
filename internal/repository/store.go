package repository

import (
	"context"
	"errors"

	"github.com/EchoWang-1/Flight-Servers/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type FlightRepository interface {
	List(ctx context.Context, filter domain.FlightFilter) ([]domain.Flight, error)
	GetByNumber(ctx context.Context, number string) (*domain.Flight, error)
	// DecrementSeat takes one seat if any remain. It reports false, without
	// error, when the flight is sold out or does not exist.
	DecrementSeat(ctx context.Context, number string) (bool, error)
	IncrementSeat(ctx context.Context, number string) error
}

type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	// TransitionStatus moves the order from one status to another and
	// reports false when the order was not in the from status.
	TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error)
	ListByUser(ctx context.Context, username string) ([]domain.OrderView, error)
	// PendingFlights returns the numbers of flights the user holds a
	// pending order on.
	PendingFlights(ctx context.Context, username string) (map[string]bool, error)
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	Exists(ctx context.Context, username string) (bool, error)
	PhoneExists(ctx context.Context, phone string) (bool, error)
	IDCardExists(ctx context.Context, idCard string) (bool, error)
	UpdatePassword(ctx context.Context, username, passwordHash string) error
}

// Store is the persistence capability the booking core runs against. Each
// call outside WithinTx uses its own pooled session.
type Store interface {
	Flights() FlightRepository
	Orders() OrderRepository
	Users() UserRepository
	// WithinTx runs fn against a Store bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
	Close()
}
