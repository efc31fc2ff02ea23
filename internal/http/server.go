// README: API gateway; owns the listener and graceful shutdown.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"courier/internal/infra"
	"courier/internal/modules/assignment"
	"courier/internal/modules/broadcast"
	"courier/internal/modules/driver"
	"courier/internal/modules/location"
	"courier/internal/modules/matching"
)

type ServerDeps struct {
	Registry    *driver.Registry
	Tracker     *location.Tracker
	Matcher     *matching.Matcher
	Coordinator *assignment.Coordinator
	Hub         *broadcast.Hub
	Verifier    infra.TokenVerifier
	Log         *slog.Logger

	DefaultRadiusKm float64
}

type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	log             *slog.Logger
}

func NewServer(addr string, shutdownTimeout time.Duration, deps ServerDeps) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
		log:             deps.Log.With("component", "http"),
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.log.Info("shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
