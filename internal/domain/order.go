package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

// Status values are stored and sent to clients verbatim.
const (
	OrderStatusPending  OrderStatus = "待出行"
	OrderStatusRefunded OrderStatus = "已退票"
)

type Order struct {
	ID           string
	Username     string
	FlightNumber string
	Seat         string
	Status       OrderStatus
	Price        decimal.Decimal
	CreatedAt    time.Time
}

// OrderView is an order joined with the flight it references.
type OrderView struct {
	Order
	Flight Flight
}
