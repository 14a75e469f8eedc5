package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/EchoWang-1/Flight-Servers/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) ObserveRequest(op string, success bool, elapsedSeconds float64) {
	m.Called(op, success, elapsedSeconds)
}

func newTestDispatcher() *Dispatcher {
	d := New()
	d.Handle("echo", func(ctx context.Context, req Request) (any, error) {
		return map[string]any{"flight_number": req.Data.String("flight_number")}, nil
	})
	d.Handle("refund_order", func(ctx context.Context, req Request) (any, error) {
		return Completed{Message: "退票成功"}, nil
	})
	d.Handle("book_flight", func(ctx context.Context, req Request) (any, error) {
		return nil, Reject("航班已售罄", errors.New("sold out"))
	})
	d.Handle("broken", func(ctx context.Context, req Request) (any, error) {
		return nil, errors.New("connection refused")
	})
	return d
}

func TestDispatcher_Dispatch(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	testCases := []struct {
		name     string
		op       string
		expected Response
	}{
		{
			name:     "data result",
			op:       "echo",
			expected: Response{Type: "echo_reply", Success: true, Data: map[string]any{"flight_number": "CA101"}},
		},
		{
			name:     "message result",
			op:       "refund_order",
			expected: Response{Type: "refund_order_reply", Success: true, Message: "退票成功"},
		},
		{
			name:     "rejection",
			op:       "book_flight",
			expected: Response{Type: "book_flight_reply", Success: false, Message: "航班已售罄"},
		},
		{
			name:     "unexpected error",
			op:       "broken",
			expected: Response{Type: "broken_reply", Success: false, Message: MessageInternal},
		},
		{
			name:     "unknown operation",
			op:       "launch_rocket",
			expected: Response{Type: ErrorType, Success: false, Message: MessageUnknownOperation},
		},
		{
			name:     "missing operation",
			op:       "",
			expected: Response{Type: ErrorType, Success: false, Message: MessageUnknownOperation},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := d.Dispatch(ctx, tc.op, Payload{"flight_number": "CA101"})
			assert.Equal(t, tc.expected, resp)
			if !resp.Success {
				assert.NotEmpty(t, resp.Message)
			}
		})
	}
}

func TestDispatcher_DispatchMessage_DataFallback(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	nested := d.DispatchMessage(ctx, protocol.Message{
		"type": "echo",
		"data": map[string]any{"flight_number": "MU5100"},
	})
	assert.Equal(t, map[string]any{"flight_number": "MU5100"}, nested.Data)

	flat := d.DispatchMessage(ctx, protocol.Message{
		"type":          "echo",
		"flight_number": "CZ3101",
	})
	assert.Equal(t, map[string]any{"flight_number": "CZ3101"}, flat.Data)

	untyped := d.DispatchMessage(ctx, protocol.Message{"data": map[string]any{}})
	assert.Equal(t, ErrorType, untyped.Type)
}

func TestDispatcher_DuplicateHandlePanics(t *testing.T) {
	d := New()
	d.Handle("login", func(context.Context, Request) (any, error) { return nil, nil })
	assert.Panics(t, func() {
		d.Handle("login", func(context.Context, Request) (any, error) { return nil, nil })
	})
}

func TestDispatcher_Observer(t *testing.T) {
	obs := &MockObserver{}
	d := New(WithObserver(obs))
	d.Handle("book_flight", func(context.Context, Request) (any, error) {
		return nil, Reject("航班不存在", nil)
	})

	obs.On("ObserveRequest", "book_flight", false, mock.AnythingOfType("float64")).Once()

	resp := d.Dispatch(context.Background(), "book_flight", Payload{})
	assert.False(t, resp.Success)

	// unknown operations are not observed per operation name
	d.Dispatch(context.Background(), "nope", Payload{})

	obs.AssertExpectations(t)
}

func TestDispatcher_ConcurrentUse(t *testing.T) {
	d := newTestDispatcher()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := d.Dispatch(context.Background(), "echo", Payload{"flight_number": "CA101"})
			assert.True(t, resp.Success)
		}()
	}
	wg.Wait()
}

func TestPayload_String(t *testing.T) {
	p := Payload{
		"s":   "alice",
		"f":   float64(13800138000),
		"u":   uint64(42),
		"i":   int64(-7),
		"nil": nil,
	}

	assert.Equal(t, "alice", p.String("s"))
	assert.Equal(t, "13800138000", p.String("f"))
	assert.Equal(t, "42", p.String("u"))
	assert.Equal(t, "-7", p.String("i"))
	assert.Equal(t, "", p.String("nil"))
	assert.Equal(t, "", p.String("missing"))
}

func TestResponse_EncodesEnvelope(t *testing.T) {
	frame, err := protocol.Encode(protocol.JSON, Response{Type: "refund_order_reply", Success: false, Message: "订单已退票"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"refund_order_reply","success":false,"message":"订单已退票"}`, string(frame[protocol.LengthFieldSize:]))
}
