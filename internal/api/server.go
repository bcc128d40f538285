package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"spacewatch/internal/config"
)

// Server wraps http.Server with context-driven shutdown.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer binds handler to the configured address.
func NewServer(cfg config.HTTPConfig, handler http.Handler, logger zerolog.Logger) *Server {
	read := cfg.ReadTimeout
	if read <= 0 {
		read = 15 * time.Second
	}
	write := cfg.WriteTimeout
	if write <= 0 {
		write = 60 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       read,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      write,
		},
		logger: logger.With().Str("component", "http_server").Logger(),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}
