package api

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/EchoWang-1/Flight-Servers/internal/dispatch"
	"github.com/EchoWang-1/Flight-Servers/internal/domain"
	"github.com/EchoWang-1/Flight-Servers/internal/service/booking"
	"github.com/EchoWang-1/Flight-Servers/internal/service/flights"
	"github.com/EchoWang-1/Flight-Servers/internal/service/users"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBookingUseCase struct {
	mock.Mock
}

func (m *MockBookingUseCase) Book(ctx context.Context, username, flightNumber string) (*domain.Order, error) {
	args := m.Called(ctx, username, flightNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockBookingUseCase) Refund(ctx context.Context, orderID, username string) error {
	args := m.Called(ctx, orderID, username)
	return args.Error(0)
}

func (m *MockBookingUseCase) ListOrders(ctx context.Context, username string) ([]domain.OrderView, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.OrderView), args.Error(1)
}

type MockFlightUseCase struct {
	mock.Mock
}

func (m *MockFlightUseCase) Search(ctx context.Context, username string, filter domain.FlightFilter) ([]flights.FlightResult, error) {
	args := m.Called(ctx, username, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]flights.FlightResult), args.Error(1)
}

type MockUserUseCase struct {
	mock.Mock
}

func (m *MockUserUseCase) Login(ctx context.Context, input users.LoginInput) (*domain.User, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserUseCase) Register(ctx context.Context, input users.RegisterInput) (*domain.User, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserUseCase) CheckPhone(ctx context.Context, phone string) (bool, error) {
	args := m.Called(ctx, phone)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserUseCase) CheckIDCard(ctx context.Context, idCard string) (bool, error) {
	args := m.Called(ctx, idCard)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserUseCase) GetInfo(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserUseCase) ChangePassword(ctx context.Context, input users.ChangePasswordInput) error {
	args := m.Called(ctx, input)
	return args.Error(0)
}

type testHandler struct {
	bookings *MockBookingUseCase
	flights  *MockFlightUseCase
	users    *MockUserUseCase
	d        *dispatch.Dispatcher
}

func newTestHandler() *testHandler {
	th := &testHandler{
		bookings: &MockBookingUseCase{},
		flights:  &MockFlightUseCase{},
		users:    &MockUserUseCase{},
		d:        dispatch.New(),
	}
	NewHandler(th.bookings, th.flights, th.users, nil).Register(th.d)
	return th
}

func TestHandler_RegistersAllOperations(t *testing.T) {
	th := newTestHandler()
	assert.ElementsMatch(t, []string{
		OpLogin, OpRegister, OpCheckPhone, OpCheckIDCard, OpGetUserInfo,
		OpChangePassword, OpGetFlights, OpBookFlight, OpGetUserOrders, OpRefundOrder,
	}, th.d.Operations())
}

func TestHandler_BookFlight(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name        string
		data        dispatch.Payload
		setup       func(m *MockBookingUseCase)
		wantSuccess bool
		wantMessage string
	}{
		{
			name: "booked",
			data: dispatch.Payload{"user_id": "alice", "flight_number": "CA101"},
			setup: func(m *MockBookingUseCase) {
				m.On("Book", ctx, "alice", "CA101").Return(&domain.Order{ID: "abc"}, nil).Once()
			},
			wantSuccess: true,
		},
		{
			name: "sold out",
			data: dispatch.Payload{"user_id": "alice", "flight_number": "CA101"},
			setup: func(m *MockBookingUseCase) {
				m.On("Book", ctx, "alice", "CA101").Return(nil, booking.ErrSoldOut).Once()
			},
			wantMessage: MessageSoldOut,
		},
		{
			name: "unknown flight",
			data: dispatch.Payload{"user_id": "alice", "flight_number": "XX1"},
			setup: func(m *MockBookingUseCase) {
				m.On("Book", ctx, "alice", "XX1").Return(nil, booking.ErrFlightNotFound).Once()
			},
			wantMessage: MessageFlightNotFound,
		},
		{
			name: "store down",
			data: dispatch.Payload{"user_id": "alice", "flight_number": "CA101"},
			setup: func(m *MockBookingUseCase) {
				err := fmt.Errorf("%w: %w", booking.ErrStoreUnavailable, errors.New("dial tcp"))
				m.On("Book", ctx, "alice", "CA101").Return(nil, err).Once()
			},
			wantMessage: dispatch.MessageInternal,
		},
		{
			name:        "missing flight number",
			data:        dispatch.Payload{"user_id": "alice"},
			setup:       func(m *MockBookingUseCase) {},
			wantMessage: MessageBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			th := newTestHandler()
			tc.setup(th.bookings)

			resp := th.d.Dispatch(ctx, OpBookFlight, tc.data)

			assert.Equal(t, "book_flight_reply", resp.Type)
			assert.Equal(t, tc.wantSuccess, resp.Success)
			assert.Equal(t, tc.wantMessage, resp.Message)
			if tc.wantSuccess {
				assert.Equal(t, bookResult{OrderNum: "abc"}, resp.Data)
			}
			th.bookings.AssertExpectations(t)
		})
	}
}

func TestHandler_RefundOrder(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name        string
		err         error
		wantSuccess bool
		wantMessage string
	}{
		{name: "refunded", wantSuccess: true, wantMessage: MessageRefunded},
		{name: "not owner", err: booking.ErrNotOwner, wantMessage: MessageNotOwner},
		{name: "already refunded", err: booking.ErrAlreadyRefunded, wantMessage: MessageAlreadyRefunded},
		{name: "not found", err: booking.ErrOrderNotFound, wantMessage: MessageOrderNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			th := newTestHandler()
			th.bookings.On("Refund", ctx, "o1", "alice").Return(tc.err).Once()

			resp := th.d.Dispatch(ctx, OpRefundOrder, dispatch.Payload{"user_id": "alice", "order_id": "o1"})

			assert.Equal(t, "refund_order_reply", resp.Type)
			assert.Equal(t, tc.wantSuccess, resp.Success)
			assert.Equal(t, tc.wantMessage, resp.Message)
			assert.Nil(t, resp.Data)
		})
	}
}

func TestHandler_GetFlights(t *testing.T) {
	th := newTestHandler()
	ctx := context.Background()

	filter := domain.FlightFilter{FromCity: "北京", ToCity: "上海", Date: "2025-07-01"}
	th.flights.On("Search", ctx, "alice", filter).Return([]flights.FlightResult{
		{Flight: domain.Flight{Number: "CA101", Airline: "国航", FromCity: "北京", ToCity: "上海", Date: "2025-07-01", DepartTime: "08:00", ArriveTime: "10:10", Price: decimal.NewFromInt(1200), RemainingSeats: 2}, Booked: true},
		{Flight: domain.Flight{Number: "MU202", Date: "2025-07-01", Price: decimal.RequireFromString("899.5")}},
	}, nil).Once()

	resp := th.d.Dispatch(ctx, OpGetFlights, dispatch.Payload{
		"user_id": "alice", "from_city": "北京", "to_city": "上海", "date": "2025-07-01",
	})
	require.True(t, resp.Success)

	items, ok := resp.Data.([]flightItem)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, flightItem{
		FlightNumber: "CA101", Airline: "国航", StartCity: "北京", EndCity: "上海",
		StartDate: "2025-07-01", EndDate: "2025-07-01", StartTime: "08:00", EndTime: "10:10",
		Status: flightAvailable, Price: "1200.00", Remaining: 2, IsBooked: true,
	}, items[0])
	assert.Equal(t, flightSoldOut, items[1].Status)
	assert.Equal(t, "899.50", items[1].Price)
	assert.False(t, items[1].IsBooked)
}

func TestHandler_GetUserOrders(t *testing.T) {
	th := newTestHandler()
	ctx := context.Background()

	created := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	th.bookings.On("ListOrders", ctx, "alice").Return([]domain.OrderView{{
		Order: domain.Order{
			ID: "o1", Username: "alice", FlightNumber: "CA101", Seat: "12A",
			Status: domain.OrderStatusPending, Price: decimal.NewFromInt(1200), CreatedAt: created,
		},
		Flight: domain.Flight{FromCity: "北京", ToCity: "上海", Date: "2025-07-01", DepartTime: "08:00", ArriveTime: "10:10"},
	}}, nil).Once()

	resp := th.d.Dispatch(ctx, OpGetUserOrders, dispatch.Payload{"user_id": "alice"})
	require.True(t, resp.Success)

	items := resp.Data.([]orderItem)
	require.Len(t, items, 1)
	assert.Equal(t, "o1", items[0].OrderNum)
	assert.Equal(t, "CA101", items[0].FlightNum)
	assert.Equal(t, "待出行", items[0].Status)
	assert.Equal(t, "2025-06-01 09:30:00", items[0].CreateTime)

	resp = th.d.Dispatch(ctx, OpGetUserOrders, dispatch.Payload{})
	assert.False(t, resp.Success)
	assert.Equal(t, MessageBadRequest, resp.Message)
}

func TestHandler_UserOperations(t *testing.T) {
	ctx := context.Background()
	alice := &domain.User{Username: "alice", RealName: "张三", Phone: "13800000001", Email: "a@example.com", IDCard: "110"}

	t.Run("login", func(t *testing.T) {
		th := newTestHandler()
		th.users.On("Login", ctx, users.LoginInput{Phone: "13800000001", Password: "pw"}).Return(alice, nil).Once()
		th.users.On("Login", ctx, users.LoginInput{Phone: "13800000001", Password: "bad"}).Return(nil, users.ErrWrongPassword).Once()

		resp := th.d.Dispatch(ctx, OpLogin, dispatch.Payload{"phone": "13800000001", "password": "pw"})
		require.True(t, resp.Success)
		assert.Equal(t, loginResult{Username: "alice", RealName: "张三", Phone: "13800000001", Email: "a@example.com", IDCard: "110"}, resp.Data)

		resp = th.d.Dispatch(ctx, OpLogin, dispatch.Payload{"phone": "13800000001", "password": "bad"})
		assert.False(t, resp.Success)
		assert.Equal(t, MessageWrongPassword, resp.Message)
	})

	t.Run("register", func(t *testing.T) {
		th := newTestHandler()
		input := users.RegisterInput{Username: "bob", Password: "pw", Phone: "139", IDCard: "220"}
		th.users.On("Register", ctx, input).Return(&domain.User{Username: "bob", Phone: "139"}, nil).Once()

		resp := th.d.Dispatch(ctx, OpRegister, dispatch.Payload{"nickname": "bob", "password": "pw", "phone": "139", "id_card": "220"})
		require.True(t, resp.Success)
		assert.Equal(t, registerResult{Username: "bob", Phone: "139"}, resp.Data)
	})

	t.Run("register phone taken", func(t *testing.T) {
		th := newTestHandler()
		th.users.On("Register", ctx, mock.Anything).Return(nil, users.ErrPhoneTaken).Once()

		resp := th.d.Dispatch(ctx, OpRegister, dispatch.Payload{"nickname": "bob", "password": "pw", "phone": "138"})
		assert.Equal(t, MessagePhoneTaken, resp.Message)
	})

	t.Run("check phone and id card", func(t *testing.T) {
		th := newTestHandler()
		th.users.On("CheckPhone", ctx, "138").Return(true, nil).Once()
		th.users.On("CheckIDCard", ctx, "110").Return(false, nil).Once()

		resp := th.d.Dispatch(ctx, OpCheckPhone, dispatch.Payload{"phone": "138"})
		assert.Equal(t, existsResult{Exists: true}, resp.Data)

		resp = th.d.Dispatch(ctx, OpCheckIDCard, dispatch.Payload{"idCard": "110"})
		assert.Equal(t, "check_idcard_reply", resp.Type)
		assert.Equal(t, existsResult{Exists: false}, resp.Data)
	})

	t.Run("get user info", func(t *testing.T) {
		th := newTestHandler()
		th.users.On("GetInfo", ctx, "alice").Return(alice, nil).Once()
		th.users.On("GetInfo", ctx, "ghost").Return(nil, users.ErrUserNotFound).Once()

		resp := th.d.Dispatch(ctx, OpGetUserInfo, dispatch.Payload{"user_id": "alice"})
		assert.Equal(t, userInfo{Username: "alice", RealName: "张三", Phone: "13800000001", Email: "a@example.com"}, resp.Data)

		resp = th.d.Dispatch(ctx, OpGetUserInfo, dispatch.Payload{"user_id": "ghost"})
		assert.Equal(t, MessageUserNotFound, resp.Message)
	})

	t.Run("change password", func(t *testing.T) {
		th := newTestHandler()
		th.users.On("ChangePassword", ctx, users.ChangePasswordInput{Username: "alice", OldPassword: "a", NewPassword: "b"}).Return(nil).Once()
		th.users.On("ChangePassword", ctx, users.ChangePasswordInput{Username: "alice", OldPassword: "x", NewPassword: "b"}).Return(users.ErrWrongOldPassword).Once()

		resp := th.d.Dispatch(ctx, OpChangePassword, dispatch.Payload{"user_id": "alice", "old_pwd": "a", "new_pwd": "b"})
		assert.True(t, resp.Success)
		assert.Equal(t, MessagePasswordChanged, resp.Message)

		resp = th.d.Dispatch(ctx, OpChangePassword, dispatch.Payload{"user_id": "alice", "old_pwd": "x", "new_pwd": "b"})
		assert.False(t, resp.Success)
		assert.Equal(t, MessageWrongOldPwd, resp.Message)
	})
}
