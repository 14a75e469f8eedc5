// Package api binds the protocol operations to the booking, flight and user
// services.
package api

import (
	"errors"

	"github.com/EchoWang-1/Flight-Servers/internal/dispatch"
	"github.com/EchoWang-1/Flight-Servers/internal/service/booking"
	"github.com/EchoWang-1/Flight-Servers/internal/service/flights"
	"github.com/EchoWang-1/Flight-Servers/internal/service/users"
	"go.uber.org/zap"
)

// Operation names.
const (
	OpLogin          = "login"
	OpRegister       = "register"
	OpCheckPhone     = "check_phone"
	OpCheckIDCard    = "check_idcard"
	OpGetUserInfo    = "get_user_info"
	OpChangePassword = "change_password"
	OpGetFlights     = "get_flights"
	OpBookFlight     = "book_flight"
	OpGetUserOrders  = "get_user_orders"
	OpRefundOrder    = "refund_order"
)

// Messages shown to clients.
const (
	MessageBadRequest      = "参数错误"
	MessageSoldOut         = "航班已售罄"
	MessageFlightNotFound  = "航班不存在"
	MessageOrderNotFound   = "订单不存在"
	MessageNotOwner        = "订单不属于当前用户"
	MessageAlreadyRefunded = "订单已退票"
	MessageRefunded        = "退票成功"
	MessageUserNotFound    = "用户不存在"
	MessageWrongPassword   = "密码错误"
	MessageWrongOldPwd     = "原密码错误"
	MessageUsernameTaken   = "用户名已存在"
	MessagePhoneTaken      = "手机号已注册"
	MessageIDCardTaken     = "身份证号已注册"
	MessagePasswordChanged = "密码修改成功"
)

type Handler struct {
	bookings booking.BookingUseCase
	flights  flights.FlightUseCase
	users    users.UserUseCase
	logger   *zap.Logger
}

func NewHandler(bookings booking.BookingUseCase, flights flights.FlightUseCase, users users.UserUseCase, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{bookings: bookings, flights: flights, users: users, logger: logger}
}

// Register installs every operation on d.
func (h *Handler) Register(d *dispatch.Dispatcher) {
	d.Handle(OpLogin, h.login)
	d.Handle(OpRegister, h.register)
	d.Handle(OpCheckPhone, h.checkPhone)
	d.Handle(OpCheckIDCard, h.checkIDCard)
	d.Handle(OpGetUserInfo, h.getUserInfo)
	d.Handle(OpChangePassword, h.changePassword)
	d.Handle(OpGetFlights, h.getFlights)
	d.Handle(OpBookFlight, h.bookFlight)
	d.Handle(OpGetUserOrders, h.getUserOrders)
	d.Handle(OpRefundOrder, h.refundOrder)
}

var rejections = []struct {
	err     error
	message string
}{
	{booking.ErrSoldOut, MessageSoldOut},
	{booking.ErrFlightNotFound, MessageFlightNotFound},
	{booking.ErrOrderNotFound, MessageOrderNotFound},
	{booking.ErrNotOwner, MessageNotOwner},
	{booking.ErrAlreadyRefunded, MessageAlreadyRefunded},
	{booking.ErrUserNotFound, MessageUserNotFound},
	{users.ErrUserNotFound, MessageUserNotFound},
	{users.ErrWrongPassword, MessageWrongPassword},
	{users.ErrWrongOldPassword, MessageWrongOldPwd},
	{users.ErrUsernameTaken, MessageUsernameTaken},
	{users.ErrPhoneTaken, MessagePhoneTaken},
	{users.ErrIDCardTaken, MessageIDCardTaken},
	{users.ErrInvalidInput, MessageBadRequest},
}

// fail turns a service error into the reply the client sees. Errors that
// are not business outcomes are logged and reported generically.
func (h *Handler) fail(op string, err error) error {
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return dispatch.Reject(r.message, err)
		}
	}
	h.logger.Error("operation failed", zap.String("op", op), zap.Error(err))
	return err
}

func badRequest(field string) error {
	return dispatch.Reject(MessageBadRequest, errors.New("missing "+field))
}
