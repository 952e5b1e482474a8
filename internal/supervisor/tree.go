// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package supervisor runs the platform's long-lived components under a
// Suture supervisor tree. A crash in one layer restarts that layer with
// backoff without taking down the others.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64

	// FailureBackoff is the duration to wait when the threshold is
	// exceeded.
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's documented defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the supervisor hierarchy:
//   - scheduling: the schedule scanner
//   - execution: the task consumer and retention sweeper
//   - api: the HTTP server and embedded queue server
//
// The layers isolate failures: a crashing consumer does not restart the
// API server, and vice versa.
type Tree struct {
	root       *suture.Supervisor
	scheduling *suture.Supervisor
	execution  *suture.Supervisor
	api        *suture.Supervisor
	config     TreeConfig
}

// NewTree creates a supervisor tree. The slog logger feeds sutureslog's
// event hook; suture does not speak zerolog.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("reportus", rootSpec)
	scheduling := suture.New("scheduling-layer", childSpec)
	execution := suture.New("execution-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(scheduling)
	root.Add(execution)
	root.Add(api)

	return &Tree{
		root:       root,
		scheduling: scheduling,
		execution:  execution,
		api:        api,
		config:     config,
	}
}

// AddSchedulingService adds a service to the scheduling layer.
func (t *Tree) AddSchedulingService(svc suture.Service) suture.ServiceToken {
	return t.scheduling.Add(svc)
}

// AddExecutionService adds a service to the execution layer.
func (t *Tree) AddExecutionService(svc suture.Service) suture.ServiceToken {
	return t.execution.Add(svc)
}

// AddAPIService adds a service to the API layer.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve starts the tree and blocks until the context is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree in a background goroutine and returns
// the channel that receives the terminal error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that failed to stop within the
// shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
