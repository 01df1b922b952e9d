package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kdimtricp/sitewatch/internal/logging"
)

// HTTPServer is the lifecycle of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService serves until its context is cancelled, then shuts the server
// down gracefully.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string {
	return "http-server"
}

// Shutdowner stops every running session and waits for them to finish.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// RegistryService holds the session registry open for the life of the tree.
// When the tree stops it stops every live session before returning.
type RegistryService struct {
	registry Shutdowner
	timeout  time.Duration
}

func NewRegistryService(registry Shutdowner, timeout time.Duration) *RegistryService {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &RegistryService{registry: registry, timeout: timeout}
}

func (s *RegistryService) Serve(ctx context.Context) error {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	logging.Info().Msg("stopping monitoring sessions")
	if err := s.registry.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("sessions did not stop cleanly")
	}
	return ctx.Err()
}

func (s *RegistryService) String() string {
	return "session-registry"
}
