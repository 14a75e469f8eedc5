package booking

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/EchoWang-1/Flight-Servers/internal/domain"
	"github.com/EchoWang-1/Flight-Servers/internal/kafka"
	"github.com/EchoWang-1/Flight-Servers/internal/lock"
	"github.com/EchoWang-1/Flight-Servers/internal/metrics"
	"github.com/EchoWang-1/Flight-Servers/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Business outcomes. They are reported to the client and never close the
// connection.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrFlightNotFound   = errors.New("flight not found")
	ErrSoldOut          = errors.New("flight sold out")
	ErrOrderNotFound    = errors.New("order not found")
	ErrNotOwner         = errors.New("order belongs to another user")
	ErrAlreadyRefunded  = errors.New("order already refunded")
	ErrStoreUnavailable = errors.New("store unavailable")
)

type BookingUseCase interface {
	Book(ctx context.Context, username, flightNumber string) (*domain.Order, error)
	Refund(ctx context.Context, orderID, username string) error
	ListOrders(ctx context.Context, username string) ([]domain.OrderView, error)
}

// FlightsCache drops cached flight searches after seat counts change.
type FlightsCache interface {
	InvalidateFlights(ctx context.Context) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type Metrics interface {
	BookingOutcome(outcome string)
	RefundOutcome(outcome string)
}

// Ledger owns seat accounting and the order state machine. Every change to
// a flight's remaining seats happens while holding that flight's lock and
// inside one store transaction, so bookings on one flight are serialized
// while different flights proceed independently.
type Ledger struct {
	store              repository.Store
	locker             lock.Locker
	cache              FlightsCache
	producer           Producer
	eventsTopic        string
	notificationsTopic string
	metrics            Metrics
	logger             *zap.Logger

	newOrderID func() string
	newSeat    func() string
	now        func() time.Time
}

type LedgerOption func(*Ledger)

func WithCache(cache FlightsCache) LedgerOption {
	return func(l *Ledger) {
		l.cache = cache
	}
}

// WithProducer publishes an OrderEvent to topic after every booking and
// refund.
func WithProducer(producer Producer, topic string) LedgerOption {
	return func(l *Ledger) {
		l.producer = producer
		l.eventsTopic = topic
	}
}

func WithNotificationsTopic(topic string) LedgerOption {
	return func(l *Ledger) {
		l.notificationsTopic = topic
	}
}

func WithMetrics(m Metrics) LedgerOption {
	return func(l *Ledger) {
		l.metrics = m
	}
}

func WithLogger(logger *zap.Logger) LedgerOption {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// NewLedger builds a Ledger over store. A nil locker selects an in-process
// KeyedMutex.
func NewLedger(store repository.Store, locker lock.Locker, opts ...LedgerOption) *Ledger {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	l := &Ledger{
		store:      store,
		locker:     locker,
		logger:     zap.NewNop(),
		newOrderID: newOrderID,
		newSeat:    randomSeat,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Book reserves one seat on flightNumber for username and creates a Pending
// order holding the flight's current price.
func (l *Ledger) Book(ctx context.Context, username, flightNumber string) (*domain.Order, error) {
	order, err := l.book(ctx, username, flightNumber)
	l.recordBooking(err)

	switch {
	case err == nil:
	case errors.Is(err, ErrSoldOut):
		l.logger.Debug("flight sold out", zap.String("flight_number", flightNumber), zap.String("username", username))
		return nil, err
	case errors.Is(err, ErrStoreUnavailable):
		l.logger.Error("booking failed", zap.String("flight_number", flightNumber), zap.Error(err))
		return nil, err
	default:
		return nil, err
	}

	l.logger.Info("flight booked",
		zap.String("order_num", order.ID),
		zap.String("username", username),
		zap.String("flight_number", flightNumber),
		zap.String("seat", order.Seat),
	)
	l.afterChange(ctx, kafka.EventOrderBooked, order)
	return order, nil
}

func (l *Ledger) book(ctx context.Context, username, flightNumber string) (*domain.Order, error) {
	exists, err := l.store.Users().Exists(ctx, username)
	if err != nil {
		return nil, storeErr(err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	release, err := l.locker.Lock(ctx, flightNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to lock flight %s: %w", flightNumber, err)
	}
	defer release()

	var order *domain.Order
	err = l.store.WithinTx(ctx, func(tx repository.Store) error {
		flight, err := tx.Flights().GetByNumber(ctx, flightNumber)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrFlightNotFound
		}
		if err != nil {
			return storeErr(err)
		}

		ok, err := tx.Flights().DecrementSeat(ctx, flightNumber)
		if err != nil {
			return storeErr(err)
		}
		if !ok {
			return ErrSoldOut
		}

		order = &domain.Order{
			ID:           l.newOrderID(),
			Username:     username,
			FlightNumber: flightNumber,
			Seat:         l.newSeat(),
			Status:       domain.OrderStatusPending,
			Price:        flight.Price,
			CreatedAt:    l.now(),
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return storeErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return order, nil
}

// Refund cancels a Pending order owned by username and returns its seat.
// The status transition and the seat increment commit together.
func (l *Ledger) Refund(ctx context.Context, orderID, username string) error {
	order, err := l.refund(ctx, orderID, username)
	l.recordRefund(err)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			l.logger.Error("refund failed", zap.String("order_num", orderID), zap.Error(err))
		}
		return err
	}

	l.logger.Info("order refunded",
		zap.String("order_num", orderID),
		zap.String("username", username),
		zap.String("flight_number", order.FlightNumber),
	)
	l.afterChange(ctx, kafka.EventOrderRefunded, order)
	return nil
}

func (l *Ledger) refund(ctx context.Context, orderID, username string) (*domain.Order, error) {
	order, err := l.store.Orders().GetByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if order.Username != username {
		return nil, ErrNotOwner
	}
	if order.Status == domain.OrderStatusRefunded {
		return nil, ErrAlreadyRefunded
	}

	release, err := l.locker.Lock(ctx, order.FlightNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to lock flight %s: %w", order.FlightNumber, err)
	}
	defer release()

	err = l.store.WithinTx(ctx, func(tx repository.Store) error {
		ok, err := tx.Orders().TransitionStatus(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusRefunded)
		if err != nil {
			return storeErr(err)
		}
		if !ok {
			return ErrAlreadyRefunded
		}
		if err := tx.Flights().IncrementSeat(ctx, order.FlightNumber); err != nil {
			return storeErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	order.Status = domain.OrderStatusRefunded
	return order, nil
}

// ListOrders returns username's orders joined with their flights, newest
// first.
func (l *Ledger) ListOrders(ctx context.Context, username string) ([]domain.OrderView, error) {
	exists, err := l.store.Users().Exists(ctx, username)
	if err != nil {
		return nil, storeErr(err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	orders, err := l.store.Orders().ListByUser(ctx, username)
	if err != nil {
		return nil, storeErr(err)
	}
	return orders, nil
}

func (l *Ledger) afterChange(ctx context.Context, eventType string, order *domain.Order) {
	if l.cache != nil {
		if err := l.cache.InvalidateFlights(ctx); err != nil {
			l.logger.Warn("failed to invalidate flights cache", zap.Error(err))
		}
	}
	if err := l.publish(ctx, eventType, order); err != nil {
		l.logger.Warn("failed to publish order event",
			zap.String("event", eventType),
			zap.String("order_num", order.ID),
			zap.Error(err),
		)
	}
}

func (l *Ledger) publish(ctx context.Context, eventType string, order *domain.Order) error {
	if l.producer == nil || l.eventsTopic == "" {
		return nil
	}
	event := kafka.OrderEvent{
		Type:         eventType,
		OrderID:      order.ID,
		Username:     order.Username,
		FlightNumber: order.FlightNumber,
		Seat:         order.Seat,
		Status:       string(order.Status),
		Price:        order.Price.String(),
		OccurredAt:   l.now(),
	}
	if err := l.producer.Publish(ctx, l.eventsTopic, order.ID, event); err != nil {
		return err
	}
	if l.notificationsTopic != "" {
		return l.producer.Publish(ctx, l.notificationsTopic, order.ID, event)
	}
	return nil
}

func (l *Ledger) recordBooking(err error) {
	if l.metrics != nil {
		l.metrics.BookingOutcome(outcome(err))
	}
}

func (l *Ledger) recordRefund(err error) {
	if l.metrics != nil {
		l.metrics.RefundOutcome(outcome(err))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case isBusiness(err):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeUnavailable
	}
}

func isBusiness(err error) bool {
	for _, target := range []error{ErrUserNotFound, ErrFlightNotFound, ErrSoldOut, ErrOrderNotFound, ErrNotOwner, ErrAlreadyRefunded} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// classify keeps business outcomes as they are and reports everything else
// coming out of a transaction (begin, commit) as a store failure.
func classify(err error) error {
	if isBusiness(err) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return storeErr(err)
}

// newOrderID returns 128 random bits as 32 hex digits.
func newOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func randomSeat() string {
	row := rand.Intn(30) + 1
	return strconv.Itoa(row) + string("ABCDEF"[rand.Intn(6)])
}

var _ BookingUseCase = (*Ledger)(nil)
