// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/reportus/internal/config"
	"github.com/tomtom215/reportus/internal/logging"
)

// Server wraps the HTTP server so the supervisor tree can start and stop
// it like every other component.
type Server struct {
	srv *http.Server
}

// NewServer creates the API server over the assembled router.
func NewServer(handler http.Handler, cfg config.ServerConfig) *Server {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout,
			IdleTimeout:       2 * timeout,
		},
	}
}

// Start begins serving and blocks until the listener closes. It returns
// nil on graceful shutdown.
func (s *Server) Start() error {
	logging.Info().Str("addr", s.srv.Addr).Msg("Starting HTTP server")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	logging.Info().Msg("Stopping HTTP server")
	return s.srv.Shutdown(ctx)
}
