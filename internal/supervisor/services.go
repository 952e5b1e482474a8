// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package supervisor

import (
	"context"
	"fmt"
	"time"
)

// HTTPServer matches the API server's lifecycle: Start blocks until the
// listener closes, Stop drains in-flight requests.
type HTTPServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// HTTPService adapts the HTTP server's blocking Start to suture's
// context-aware Serve.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService creates an HTTP server service.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server exited: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	<-errCh
	return nil
}

func (s *HTTPService) String() string { return "http-server" }

// Runner matches the Start/Stop lifecycle shared by the schedule scanner
// and the retention sweeper.
type Runner interface {
	Start(ctx context.Context) error
	Stop() error
}

// RunnerService adapts a Start/Stop component to suture's Serve.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService creates a service wrapper around a Start/Stop
// component. The name shows up in suture's event log.
func NewRunnerService(runner Runner, name string) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	if err := s.runner.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}
	<-ctx.Done()
	if err := s.runner.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return nil
}

func (s *RunnerService) String() string { return s.name }

// Consumer matches the task consumer's lifecycle; its Stop drains
// without returning an error.
type Consumer interface {
	Start(ctx context.Context) error
	Stop()
}

// ConsumerService adapts a queue consumer to suture's Serve.
type ConsumerService struct {
	consumer Consumer
	name     string
}

// NewConsumerService creates a consumer service wrapper. The name shows
// up in supervision logs; the task and notification consumers get
// distinct ones.
func NewConsumerService(consumer Consumer, name string) *ConsumerService {
	return &ConsumerService{consumer: consumer, name: name}
}

// Serve implements suture.Service.
func (s *ConsumerService) Serve(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("consumer start failed: %w", err)
	}
	<-ctx.Done()
	s.consumer.Stop()
	return nil
}

func (s *ConsumerService) String() string { return s.name }

// MessageServer matches the embedded queue server, which is already
// running when constructed and only needs supervised shutdown.
type MessageServer interface {
	Shutdown(ctx context.Context) error
	IsRunning() bool
}

// MessageServerService holds the embedded queue server open for the
// life of the tree and shuts it down on cancellation. If the server
// dies underneath us the service returns an error so suture logs it;
// the server itself cannot be restarted in place, so the process should
// be restarted by the operator's init system.
type MessageServerService struct {
	server          MessageServer
	shutdownTimeout time.Duration
}

// NewMessageServerService creates an embedded queue server service.
func NewMessageServerService(server MessageServer, shutdownTimeout time.Duration) *MessageServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &MessageServerService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (s *MessageServerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			return s.server.Shutdown(shutdownCtx)
		case <-ticker.C:
			if !s.server.IsRunning() {
				return fmt.Errorf("embedded queue server stopped unexpectedly")
			}
		}
	}
}

func (s *MessageServerService) String() string { return "queue-server" }
