package domain

import "github.com/shopspring/decimal"

// Flight is provisioned out-of-band; only RemainingSeats changes at runtime,
// and only through the booking ledger.
type Flight struct {
	Number         string
	Airline        string
	FromCity       string
	FromAirport    string
	ToCity         string
	ToAirport      string
	Date           string
	DepartTime     string
	ArriveTime     string
	Price          decimal.Decimal
	RemainingSeats int
}

func (f Flight) SoldOut() bool {
	return f.RemainingSeats <= 0
}

// FlightFilter narrows a flight search. Empty fields match everything.
type FlightFilter struct {
	FromCity string
	ToCity   string
	Date     string
}

// Key identifies the filter in caches.
func (f FlightFilter) Key() string {
	return f.FromCity + "|" + f.ToCity + "|" + f.Date
}
