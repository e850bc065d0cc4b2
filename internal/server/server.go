// Package server is an in-memory content server speaking the same API as the
// production one, for local experimentation and end-to-end tests.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type Server struct {
	config *Config
	server *http.Server
	store  *ContentStore
	faults *Faults
}

func New(config *Config) (*Server, error) {
	config.setDefaults()
	store := NewContentStore()
	faults := &Faults{}

	handler, err := SetupRoutes(config, store, faults)
	if err != nil {
		return nil, fmt.Errorf("setup routes: %w", err)
	}

	return &Server{
		config: config,
		store:  store,
		faults: faults,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Store() *ContentStore {
	return s.store
}

func (s *Server) Faults() *Faults {
	return s.faults
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("devserver start", "addr", s.config.Addr)
	defer slog.Info("devserver stop")

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Stop(context.WithoutCancel(ctx))
	case err := <-errCh:
		return err
	}
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
