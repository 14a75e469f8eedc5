package notify

import (
	"context"

	"github.com/EchoWang-1/Flight-Servers/internal/kafka"
	"go.uber.org/zap"
)

// Sender delivers order notifications to passengers. Delivery is a log line
// until a messaging provider is wired in.
type Sender struct {
	logger *zap.Logger
}

func NewSender(logger *zap.Logger) *Sender {
	return &Sender{logger: logger}
}

func (s *Sender) Send(ctx context.Context, event kafka.OrderEvent) error {
	s.logger.Info("notify passenger",
		zap.String("username", event.Username),
		zap.String("event", event.Type),
		zap.String("order_num", event.OrderID),
		zap.String("flight_number", event.FlightNumber),
		zap.String("seat", event.Seat),
	)
	return nil
}
