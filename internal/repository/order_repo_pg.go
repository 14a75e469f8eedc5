package repository

import (
	"context"
	"fmt"

	"github.com/EchoWang-1/Flight-Servers/internal/domain"
)

type PGOrderRepository struct {
	db querier
}

func (r *PGOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	_, err := r.db.Exec(ctx, `INSERT INTO orders (order_num, username, flight_num, seat, status, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		order.ID, order.Username, order.FlightNumber, order.Seat, order.Status, order.Price, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s", ErrConflict, order.ID)
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *PGOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	err := r.db.QueryRow(ctx, `SELECT order_num, username, flight_num, seat, status, price, created_at FROM orders WHERE order_num = $1`, id).
		Scan(&o.ID, &o.Username, &o.FlightNumber, &o.Seat, &o.Status, &o.Price, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *PGOrderRepository) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	res, err := r.db.Exec(ctx, `UPDATE orders SET status = $3 WHERE order_num = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return res.RowsAffected() == 1, nil
}

func (r *PGOrderRepository) ListByUser(ctx context.Context, username string) ([]domain.OrderView, error) {
	rows, err := r.db.Query(ctx, `
		SELECT o.order_num, o.username, o.flight_num, o.seat, o.status, o.price, o.created_at,
		       COALESCE(f.airline, ''), COALESCE(f.from_city, ''), COALESCE(f.from_airport, ''),
		       COALESCE(f.to_city, ''), COALESCE(f.to_airport, ''),
		       COALESCE(to_char(f.date, 'YYYY-MM-DD'), ''),
		       COALESCE(to_char(f.depart_time, 'HH24:MI'), ''),
		       COALESCE(to_char(f.arrive_time, 'HH24:MI'), '')
		FROM orders o
		LEFT JOIN flights f ON f.flight_num = o.flight_num
		WHERE o.username = $1
		ORDER BY o.created_at DESC`, username)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	views := make([]domain.OrderView, 0)
	for rows.Next() {
		var v domain.OrderView
		if err := rows.Scan(&v.ID, &v.Username, &v.FlightNumber, &v.Seat, &v.Status, &v.Price, &v.CreatedAt,
			&v.Flight.Airline, &v.Flight.FromCity, &v.Flight.FromAirport, &v.Flight.ToCity, &v.Flight.ToAirport,
			&v.Flight.Date, &v.Flight.DepartTime, &v.Flight.ArriveTime); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		v.Flight.Number = v.FlightNumber
		views = append(views, v)
	}
	return views, rows.Err()
}

func (r *PGOrderRepository) PendingFlights(ctx context.Context, username string) (map[string]bool, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT flight_num FROM orders WHERE username = $1 AND status = $2`, username, domain.OrderStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending flights: %w", err)
	}
	defer rows.Close()

	booked := make(map[string]bool)
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, fmt.Errorf("scan flight number: %w", err)
		}
		booked[number] = true
	}
	return booked, rows.Err()
}

var _ OrderRepository = (*PGOrderRepository)(nil)
