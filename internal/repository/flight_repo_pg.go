package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/EchoWang-1/Flight-Servers/internal/domain"
	"github.com/jackc/pgx/v5"
)

type PGFlightRepository struct {
	db querier
}

const flightColumns = `flight_num, airline, from_city, from_airport, to_city, to_airport,
	to_char(date, 'YYYY-MM-DD'), to_char(depart_time, 'HH24:MI'), to_char(arrive_time, 'HH24:MI'),
	price, remaining`

func scanFlight(row pgx.Row, f *domain.Flight) error {
	return row.Scan(&f.Number, &f.Airline, &f.FromCity, &f.FromAirport, &f.ToCity, &f.ToAirport,
		&f.Date, &f.DepartTime, &f.ArriveTime, &f.Price, &f.RemainingSeats)
}

func (r *PGFlightRepository) List(ctx context.Context, filter domain.FlightFilter) ([]domain.Flight, error) {
	var (
		where []string
		args  []any
	)
	if filter.FromCity != "" {
		args = append(args, filter.FromCity)
		where = append(where, fmt.Sprintf("from_city = $%d", len(args)))
	}
	if filter.ToCity != "" {
		args = append(args, filter.ToCity)
		where = append(where, fmt.Sprintf("to_city = $%d", len(args)))
	}
	if filter.Date != "" {
		args = append(args, filter.Date)
		where = append(where, fmt.Sprintf("date = $%d::date", len(args)))
	}

	query := `SELECT ` + flightColumns + ` FROM flights`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date, depart_time, flight_num`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list flights: %w", err)
	}
	defer rows.Close()

	flights := make([]domain.Flight, 0)
	for rows.Next() {
		var f domain.Flight
		if err := scanFlight(rows, &f); err != nil {
			return nil, fmt.Errorf("scan flight: %w", err)
		}
		flights = append(flights, f)
	}
	return flights, rows.Err()
}

func (r *PGFlightRepository) GetByNumber(ctx context.Context, number string) (*domain.Flight, error) {
	var f domain.Flight
	row := r.db.QueryRow(ctx, `SELECT `+flightColumns+` FROM flights WHERE flight_num = $1`, number)
	if err := scanFlight(row, &f); err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

// DecrementSeat is a compare-and-swap on the seat column: the row is only
// updated while remaining is positive, so concurrent callers can never drive
// it below zero.
func (r *PGFlightRepository) DecrementSeat(ctx context.Context, number string) (bool, error) {
	res, err := r.db.Exec(ctx, `UPDATE flights SET remaining = remaining - 1 WHERE flight_num = $1 AND remaining > 0`, number)
	if err != nil {
		return false, fmt.Errorf("decrement seat: %w", err)
	}
	return res.RowsAffected() == 1, nil
}

func (r *PGFlightRepository) IncrementSeat(ctx context.Context, number string) error {
	res, err := r.db.Exec(ctx, `UPDATE flights SET remaining = remaining + 1 WHERE flight_num = $1`, number)
	if err != nil {
		return fmt.Errorf("increment seat: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ FlightRepository = (*PGFlightRepository)(nil)
