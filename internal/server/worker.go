package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/EchoWang-1/Flight-Servers/internal/dispatch"
	"github.com/EchoWang-1/Flight-Servers/internal/protocol"
	"go.uber.org/zap"
)

// worker serves one connection. Requests are handled strictly one after
// another so replies leave in request order.
type worker struct {
	s      *Server
	conn   net.Conn
	dec    *protocol.Decoder
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	closeOnce sync.Once
}

func (s *Server) newWorker(ctx context.Context, conn net.Conn) *worker {
	var opts []protocol.DecoderOption
	if s.maxFrameSize > 0 {
		opts = append(opts, protocol.WithMaxFrameSize(s.maxFrameSize))
	}
	wctx, cancel := context.WithCancel(ctx)
	w := &worker{
		s:      s,
		conn:   conn,
		dec:    protocol.NewDecoder(s.codec, opts...),
		ctx:    wctx,
		cancel: cancel,
		logger: s.logger.With(
			zap.Uint64("conn_id", s.nextID.Add(1)),
			zap.String("remote", conn.RemoteAddr().String()),
		),
	}
	s.track(w)
	return w
}

func (w *worker) serve() {
	defer w.close()
	w.logger.Debug("connection opened")

	buf := make([]byte, readBufferSize)
	for {
		if w.s.readIdleTimeout > 0 {
			_ = w.conn.SetReadDeadline(time.Now().Add(w.s.readIdleTimeout))
		}
		n, readErr := w.conn.Read(buf)
		if n > 0 {
			if !w.handle(buf[:n]) {
				return
			}
		}
		if readErr != nil {
			w.logReadError(readErr)
			return
		}
	}
}

// handle feeds p to the decoder and answers every complete request. It
// reports false when the connection must be closed.
func (w *worker) handle(p []byte) bool {
	msgs, err := w.dec.Feed(p)
	w.s.metrics.FramesReceived(len(msgs))

	for _, msg := range msgs {
		resp := w.s.handler.DispatchMessage(w.ctx, msg)
		if werr := w.write(resp); werr != nil {
			w.logger.Warn("write failed", zap.Error(werr))
			return false
		}
	}

	if err != nil {
		w.s.metrics.ProtocolError()
		w.logger.Warn("closing connection on malformed input", zap.Error(err))
		_ = w.write(dispatch.Response{Type: dispatch.ErrorType, Message: dispatch.MessageMalformed})
		return false
	}
	return true
}

func (w *worker) write(resp dispatch.Response) error {
	frame, err := protocol.Encode(w.s.codec, resp)
	if err != nil {
		w.logger.Error("failed to encode reply", zap.String("type", resp.Type), zap.Error(err))
		frame, err = protocol.Encode(w.s.codec, dispatch.Response{Type: resp.Type, Message: dispatch.MessageInternal})
		if err != nil {
			return err
		}
	}
	if w.s.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.s.writeTimeout))
	}
	_, err = w.conn.Write(frame)
	return err
}

func (w *worker) logReadError(err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		w.logger.Debug("connection closed by peer")
	case errors.Is(err, net.ErrClosed):
		w.logger.Debug("connection closed")
	case errors.As(err, &ne) && ne.Timeout():
		w.logger.Info("closing idle connection")
	default:
		w.logger.Warn("read failed", zap.Error(err))
	}
}

// close tears the connection down. It is safe to call more than once and
// from any goroutine.
func (w *worker) close() {
	w.closeOnce.Do(func() {
		w.cancel()
		_ = w.conn.Close()
		w.s.untrack(w)
	})
}
