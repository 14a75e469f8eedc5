package api

import (
	"context"

	"github.com/EchoWang-1/Flight-Servers/internal/dispatch"
	"github.com/EchoWang-1/Flight-Servers/internal/domain"
	"github.com/EchoWang-1/Flight-Servers/internal/service/flights"
)

const (
	flightAvailable = "有票"
	flightSoldOut   = "售罄"

	createTimeLayout = "2006-01-02 15:04:05"
)

type flightItem struct {
	FlightNumber string `json:"flight_number"`
	Airline      string `json:"airline"`
	StartCity    string `json:"startCity"`
	EndCity      string `json:"endCity"`
	StartAirport string `json:"startAirport"`
	EndAirport   string `json:"endAirport"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
	StartTime    string `json:"startTime"`
	EndTime      string `json:"endTime"`
	Status       string `json:"status"`
	Price        string `json:"price"`
	Remaining    int    `json:"remaining"`
	IsBooked     bool   `json:"isBooked"`
}

type orderItem struct {
	OrderNum    string `json:"order_num"`
	FlightNum   string `json:"flight_num"`
	FromCity    string `json:"from_city"`
	FromAirport string `json:"from_airport"`
	ToCity      string `json:"to_city"`
	ToAirport   string `json:"to_airport"`
	Date        string `json:"date"`
	DepartTime  string `json:"depart_time"`
	ArriveTime  string `json:"arrive_time"`
	Status      string `json:"status"`
	Price       string `json:"price"`
	Seat        string `json:"seat"`
	CreateTime  string `json:"create_time"`
}

type bookResult struct {
	OrderNum string `json:"order_num"`
}

func (h *Handler) getFlights(ctx context.Context, req dispatch.Request) (any, error) {
	filter := domain.FlightFilter{
		FromCity: req.Data.String("from_city"),
		ToCity:   req.Data.String("to_city"),
		Date:     req.Data.String("date"),
	}
	results, err := h.flights.Search(ctx, req.Data.String("user_id"), filter)
	if err != nil {
		return nil, h.fail(req.Type, err)
	}

	items := make([]flightItem, 0, len(results))
	for _, r := range results {
		items = append(items, newFlightItem(r))
	}
	return items, nil
}

func newFlightItem(r flights.FlightResult) flightItem {
	status := flightAvailable
	if r.SoldOut() {
		status = flightSoldOut
	}
	return flightItem{
		FlightNumber: r.Number,
		Airline:      r.Airline,
		StartCity:    r.FromCity,
		EndCity:      r.ToCity,
		StartAirport: r.FromAirport,
		EndAirport:   r.ToAirport,
		StartDate:    r.Date,
		EndDate:      r.Date,
		StartTime:    r.DepartTime,
		EndTime:      r.ArriveTime,
		Status:       status,
		Price:        r.Price.StringFixed(2),
		Remaining:    r.RemainingSeats,
		IsBooked:     r.Booked,
	}
}

func (h *Handler) bookFlight(ctx context.Context, req dispatch.Request) (any, error) {
	username := req.Data.String("user_id")
	flightNumber := req.Data.String("flight_number")
	if username == "" {
		return nil, badRequest("user_id")
	}
	if flightNumber == "" {
		return nil, badRequest("flight_number")
	}

	order, err := h.bookings.Book(ctx, username, flightNumber)
	if err != nil {
		return nil, h.fail(req.Type, err)
	}
	return bookResult{OrderNum: order.ID}, nil
}

func (h *Handler) getUserOrders(ctx context.Context, req dispatch.Request) (any, error) {
	username := req.Data.String("user_id")
	if username == "" {
		return nil, badRequest("user_id")
	}

	orders, err := h.bookings.ListOrders(ctx, username)
	if err != nil {
		return nil, h.fail(req.Type, err)
	}

	items := make([]orderItem, 0, len(orders))
	for _, o := range orders {
		items = append(items, orderItem{
			OrderNum:    o.ID,
			FlightNum:   o.FlightNumber,
			FromCity:    o.Flight.FromCity,
			FromAirport: o.Flight.FromAirport,
			ToCity:      o.Flight.ToCity,
			ToAirport:   o.Flight.ToAirport,
			Date:        o.Flight.Date,
			DepartTime:  o.Flight.DepartTime,
			ArriveTime:  o.Flight.ArriveTime,
			Status:      string(o.Status),
			Price:       o.Price.StringFixed(2),
			Seat:        o.Seat,
			CreateTime:  o.CreatedAt.Format(createTimeLayout),
		})
	}
	return items, nil
}

func (h *Handler) refundOrder(ctx context.Context, req dispatch.Request) (any, error) {
	username := req.Data.String("user_id")
	orderID := req.Data.String("order_id")
	if username == "" {
		return nil, badRequest("user_id")
	}
	if orderID == "" {
		return nil, badRequest("order_id")
	}

	if err := h.bookings.Refund(ctx, orderID, username); err != nil {
		return nil, h.fail(req.Type, err)
	}
	return dispatch.Completed{Message: MessageRefunded}, nil
}
