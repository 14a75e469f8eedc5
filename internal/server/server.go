// Package server accepts client connections and runs one worker per
// connection, each reading frames, dispatching them in order and writing
// the replies back.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EchoWang-1/Flight-Servers/config"
	"github.com/EchoWang-1/Flight-Servers/internal/dispatch"
	"github.com/EchoWang-1/Flight-Servers/internal/protocol"
	"go.uber.org/zap"
)

const (
	readBufferSize = 32 * 1024

	maxAcceptBackoff = time.Second
)

// Handler answers one decoded request. *dispatch.Dispatcher implements it.
type Handler interface {
	DispatchMessage(ctx context.Context, msg protocol.Message) dispatch.Response
}

type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	FramesReceived(n int)
	ProtocolError()
}

type Server struct {
	handler         Handler
	codec           protocol.Codec
	maxFrameSize    uint32
	readIdleTimeout time.Duration
	writeTimeout    time.Duration
	logger          *zap.Logger
	metrics         Metrics

	mu     sync.Mutex
	conns  map[*worker]struct{}
	wg     sync.WaitGroup
	nextID atomic.Uint64
}

type Option func(*Server)

func WithCodec(codec protocol.Codec) Option {
	return func(s *Server) {
		s.codec = codec
	}
}

// WithMaxFrameSize bounds the declared payload length of incoming frames.
// Zero means no bound.
func WithMaxFrameSize(n uint32) Option {
	return func(s *Server) {
		s.maxFrameSize = n
	}
}

// WithReadIdleTimeout closes connections that send nothing for d. Zero
// disables the timeout.
func WithReadIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.readIdleTimeout = d
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func New(handler Handler, opts ...Option) *Server {
	s := &Server{
		handler:      handler,
		codec:        protocol.JSON,
		writeTimeout: 10 * time.Second,
		logger:       zap.NewNop(),
		metrics:      noopMetrics{},
		conns:        make(map[*worker]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig applies the server section of the configuration.
func NewFromConfig(cfg config.ServerConfig, handler Handler, opts ...Option) (*Server, error) {
	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithCodec(codec),
		WithMaxFrameSize(cfg.MaxFrameBytes),
		WithReadIdleTimeout(cfg.ReadIdleTimeout),
		WithWriteTimeout(cfg.WriteTimeout),
	}
	return New(handler, append(base, opts...)...), nil
}

// ListenAndServe binds addr and serves until ctx is cancelled. A bind
// failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed.
// Accept errors are logged and accepting continues. On return every
// connection has been closed and its worker has finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	// Unblock Accept when the context is cancelled.
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()

	s.logger.Info("flight server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("codec", s.codec.Name()),
	)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			s.logger.Error("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			continue
		}
		backoff = 0

		w := s.newWorker(ctx, conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.serve()
		}()
	}

	s.closeAll()
	s.wg.Wait()
	s.logger.Info("flight server stopped")
	return nil
}

// ActiveConnections returns the number of open client connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(w *worker) {
	s.mu.Lock()
	s.conns[w] = struct{}{}
	s.mu.Unlock()
	s.metrics.ConnectionOpened()
}

func (s *Server) untrack(w *worker) {
	s.mu.Lock()
	delete(s.conns, w)
	s.mu.Unlock()
	s.metrics.ConnectionClosed()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.conns))
	for w := range s.conns {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		w.close()
	}
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()  {}
func (noopMetrics) ConnectionClosed()  {}
func (noopMetrics) FramesReceived(int) {}
func (noopMetrics) ProtocolError()     {}
