// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// fakeService fails a set number of times, then runs until cancelled.
type fakeService struct {
	name     string
	starts   atomic.Int32
	failures int32
}

func (f *fakeService) Serve(ctx context.Context) error {
	if f.starts.Add(1) <= f.failures {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeService) String() string { return f.name }

var _ suture.Service = (*fakeService)(nil)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitStarted(t *testing.T, svcs ...*fakeService) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for _, s := range svcs {
		for s.starts.Load() < 1 {
			if time.Now().After(deadline) {
				t.Fatalf("%s was not started", s.name)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestTreeDefaults(t *testing.T) {
	t.Parallel()
	tree := NewTree(quietLogger(), TreeConfig{})
	if tree.config != DefaultTreeConfig() {
		t.Errorf("config = %+v, want defaults", tree.config)
	}

	custom := NewTree(quietLogger(), TreeConfig{FailureThreshold: 2, ShutdownTimeout: time.Second})
	if custom.config.FailureThreshold != 2 || custom.config.ShutdownTimeout != time.Second {
		t.Errorf("explicit values overridden: %+v", custom.config)
	}
	if custom.config.FailureDecay != 30 || custom.config.FailureBackoff != 15*time.Second {
		t.Errorf("zero values not defaulted: %+v", custom.config)
	}
}

func TestTreeStartsEveryLayerAndStops(t *testing.T) {
	t.Parallel()
	tree := NewTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})

	core := &fakeService{name: "core-svc"}
	msg := &fakeService{name: "messaging-svc"}
	api := &fakeService{name: "api-svc"}
	tree.AddCoreService(core)
	tree.AddMessagingService(msg)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	waitStarted(t, core, msg, api)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
	if report, err := tree.UnstoppedServiceReport(); err != nil || len(report) != 0 {
		t.Errorf("unstopped services: %v, %v", report, err)
	}
}

func TestTreeRestartsFailingService(t *testing.T) {
	t.Parallel()
	tree := NewTree(quietLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	flaky := &fakeService{name: "flaky", failures: 2}
	stable := &fakeService{name: "stable"}
	tree.AddMessagingService(flaky)
	tree.AddAPIService(stable)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(time.Second)
	for flaky.starts.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if flaky.starts.Load() < 3 {
		t.Errorf("flaky started %d times, want at least 3", flaky.starts.Load())
	}
	waitStarted(t, stable)
	if stable.starts.Load() != 1 {
		t.Errorf("stable started %d times, want 1", stable.starts.Load())
	}
	cancel()
	<-errCh
}
