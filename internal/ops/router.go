// Package ops serves the operator HTTP endpoints: liveness, readiness,
// Prometheus metrics and a read-only inventory view.
package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/EchoWang-1/Flight-Servers/internal/domain"
	"github.com/EchoWang-1/Flight-Servers/internal/service/flights"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readinessTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type FlightHandler struct {
	service flights.FlightUseCase
}

func NewFlightHandler(service flights.FlightUseCase) *FlightHandler {
	return &FlightHandler{service: service}
}

func (h *FlightHandler) Register(router *gin.RouterGroup) {
	router.GET("", h.list)
}

type flightResponse struct {
	FlightNumber string `json:"flight_number"`
	Airline      string `json:"airline"`
	FromCity     string `json:"from_city"`
	ToCity       string `json:"to_city"`
	Date         string `json:"date"`
	DepartTime   string `json:"depart_time"`
	ArriveTime   string `json:"arrive_time"`
	Price        string `json:"price"`
	Remaining    int    `json:"remaining"`
}

func (h *FlightHandler) list(c *gin.Context) {
	filter := domain.FlightFilter{
		FromCity: c.Query("from_city"),
		ToCity:   c.Query("to_city"),
		Date:     c.Query("date"),
	}
	results, err := h.service.Search(c.Request.Context(), "", filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]flightResponse, 0, len(results))
	for _, f := range results {
		resp = append(resp, flightResponse{
			FlightNumber: f.Number,
			Airline:      f.Airline,
			FromCity:     f.FromCity,
			ToCity:       f.ToCity,
			Date:         f.Date,
			DepartTime:   f.DepartTime,
			ArriveTime:   f.ArriveTime,
			Price:        f.Price.StringFixed(2),
			Remaining:    f.RemainingSeats,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// NewRouter wires the ops endpoints. A nil gatherer serves the default
// Prometheus registry.
func NewRouter(store Pinger, gatherer prometheus.Gatherer, flightService flights.FlightUseCase) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if flightService != nil {
		NewFlightHandler(flightService).Register(router.Group("/flights"))
	}
	return router
}
