package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/EchoWang-1/Flight-Servers/internal/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Servers are the two listeners of the process: the framed protocol server
// for clients and the HTTP ops server.
type Servers struct {
	Flight     *server.Server
	FlightAddr string
	Ops        http.Handler
	OpsAddr    string
}

// Run binds both listeners, then serves until ctx is cancelled or either
// server fails. A bind failure returns before anything is served.
func Run(ctx context.Context, s Servers, logger *zap.Logger) error {
	flightLn, err := net.Listen("tcp", s.FlightAddr)
	if err != nil {
		return fmt.Errorf("listen flight server %s: %w", s.FlightAddr, err)
	}

	var opsServer *http.Server
	var opsLn net.Listener
	if s.Ops != nil && s.OpsAddr != "" {
		opsLn, err = net.Listen("tcp", s.OpsAddr)
		if err != nil {
			flightLn.Close()
			return fmt.Errorf("listen ops server %s: %w", s.OpsAddr, err)
		}
		opsServer = &http.Server{Handler: s.Ops, ReadHeaderTimeout: 5 * time.Second}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Flight.Serve(ctx, flightLn)
	})

	if opsServer != nil {
		g.Go(func() error {
			logger.Info("ops server listening", zap.String("addr", opsLn.Addr().String()))
			if err := opsServer.Serve(opsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := opsServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown ops server: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}
