package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/alexdev-tb/snippet-runner/internal/config"
	"github.com/alexdev-tb/snippet-runner/internal/telemetry"
)

var ErrServerClosed = http.ErrServerClosed

type Server struct {
	cfg    config.HTTP
	http   *http.Server
	logger *slog.Logger
}

func New(cfg config.HTTP, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = telemetry.Discard()
	}
	httpSrv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return &Server{cfg: cfg, http: httpSrv, logger: logger}
}

func (s *Server) Addr() string {
	return s.http.Addr
}

// Run serves until ctx is cancelled, then drains in-flight runs for up to
// the configured shutdown timeout. A clean stop returns ErrServerClosed.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down", "timeout", s.cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ErrServerClosed
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return ErrServerClosed
		}
		return err
	}
}
