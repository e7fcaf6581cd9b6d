// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package services

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"
)

// RunFunc is a blocking loop that returns when ctx is done.
type RunFunc func(ctx context.Context) error

// RunnerService supervises a RunFunc: the orchestrator's sync cycle and
// reconnection loop, the learning event router, the mesh peer.
type RunnerService struct {
	name    string
	run     RunFunc
	oneShot bool
}

// NewRunnerService wraps run. Failures are returned to suture, which
// restarts the service with backoff.
func NewRunnerService(name string, run RunFunc) *RunnerService {
	return &RunnerService{name: name, run: run}
}

// NewOneShotService wraps a run loop that cannot be started twice, such as
// a watermill router. A failure removes it from the tree instead of
// restarting it.
func NewOneShotService(name string, run RunFunc) *RunnerService {
	return &RunnerService{name: name, run: run, oneShot: true}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	err := s.run(ctx)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case s.oneShot:
		if err == nil {
			return suture.ErrDoNotRestart
		}
		return fmt.Errorf("%s stopped: %v: %w", s.name, err, suture.ErrDoNotRestart)
	case err == nil:
		return fmt.Errorf("%s returned unexpectedly", s.name)
	}
	return fmt.Errorf("%s: %w", s.name, err)
}

func (s *RunnerService) String() string { return s.name }
