// Package dispatch routes decoded protocol messages to operation handlers
// and wraps their results in the reply envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/EchoWang-1/Flight-Servers/internal/protocol"
)

const (
	// ErrorType is the reply type used when a request cannot be routed.
	ErrorType = "error"

	replySuffix = "_reply"

	MessageUnknownOperation = "未知请求类型"
	MessageInternal         = "服务暂不可用"
	MessageMalformed        = "请求格式错误"
)

// HandlerFunc serves one operation. A nil result with a nil error produces a
// success reply without data.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// Request is a routed message.
type Request struct {
	Type string
	Data Payload
}

// Response is the reply envelope. Failed replies always carry Message.
type Response struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Rejection is a business outcome reported to the client in-band.
type Rejection struct {
	Message string
	Err     error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return r.Message + ": " + r.Err.Error()
	}
	return r.Message
}

func (r *Rejection) Unwrap() error { return r.Err }

// Reject builds a Rejection with a user-visible message.
func Reject(message string, cause error) error {
	return &Rejection{Message: message, Err: cause}
}

// Completed marks a successful operation whose reply carries only a message.
type Completed struct {
	Message string
}

// Dispatcher maps operation names to handlers. Handlers are registered during
// startup; afterwards the table is only read, so a single Dispatcher is shared
// by every connection without locking.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	observer Observer
}

// Observer is notified after every dispatched request.
type Observer interface {
	ObserveRequest(op string, success bool, elapsedSeconds float64)
}

type Option func(*Dispatcher)

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]HandlerFunc)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle registers handler for op. It panics on duplicate registration.
func (d *Dispatcher) Handle(op string, handler HandlerFunc) {
	if _, exists := d.handlers[op]; exists {
		panic(fmt.Sprintf("dispatch: duplicate handler for operation %q", op))
	}
	d.handlers[op] = handler
}

// Operations lists the registered operation names.
func (d *Dispatcher) Operations() []string {
	ops := make([]string, 0, len(d.handlers))
	for op := range d.handlers {
		ops = append(ops, op)
	}
	return ops
}

// DispatchMessage extracts the operation name and data from msg and
// dispatches it. When msg has no "data" object, its remaining top-level
// fields are the data.
func (d *Dispatcher) DispatchMessage(ctx context.Context, msg protocol.Message) Response {
	op, _ := msg["type"].(string)

	data, ok := msg["data"].(map[string]any)
	if !ok {
		data = make(map[string]any, len(msg))
		for k, v := range msg {
			if k != "type" {
				data[k] = v
			}
		}
	}
	return d.Dispatch(ctx, op, data)
}

// Dispatch runs the handler registered for op. It never panics on unknown
// operations or handler failures; every call yields exactly one Response.
func (d *Dispatcher) Dispatch(ctx context.Context, op string, data Payload) Response {
	handler, ok := d.handlers[op]
	if !ok {
		return Response{Type: ErrorType, Success: false, Message: MessageUnknownOperation}
	}

	start := now()
	result, err := handler(ctx, Request{Type: op, Data: data})
	resp := reply(op, result, err)
	if d.observer != nil {
		d.observer.ObserveRequest(op, resp.Success, since(start))
	}
	return resp
}

func reply(op string, result any, err error) Response {
	resp := Response{Type: op + replySuffix}
	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) && rej.Message != "" {
			resp.Message = rej.Message
		} else {
			resp.Message = MessageInternal
		}
		return resp
	}

	resp.Success = true
	switch v := result.(type) {
	case nil:
	case Completed:
		resp.Message = v.Message
	case *Completed:
		resp.Message = v.Message
	default:
		resp.Data = v
	}
	return resp
}
