// Package recovery retries failing operations with exponential backoff.
package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/catalog-etl/internal/ingestion/metrics"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-time SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Supervisor retries an operation until it succeeds. There is no attempt
// limit; only context cancellation stops it.
type Supervisor struct {
	backoff Backoff
	sleep   SleepFunc
	log     *slog.Logger

	mu    sync.Mutex
	state State
}

// NewSupervisor creates a supervisor. A nil sleep uses real time.
func NewSupervisor(backoff Backoff, sleep SleepFunc) *Supervisor {
	if sleep == nil {
		sleep = Sleep
	}
	return &Supervisor{
		backoff: backoff,
		sleep:   sleep,
		log:     slog.Default().With("component", "supervisor"),
	}
}

// State returns the current failure streak.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run calls op until it returns nil. It returns ctx.Err() if the context is
// cancelled while failing or waiting.
func (s *Supervisor) Run(ctx context.Context, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, s, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do is Run for operations that return a value.
func Do[T any](ctx context.Context, s *Supervisor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	for {
		result, err := op(ctx)
		if err == nil {
			s.succeed()
			return result, nil
		}

		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		state := s.fail()
		s.log.Error("Operation failed", "operation", name, "failures", state.Failures, "error", err)
		s.log.Info("Will retry", "operation", name, "wait", state.Wait)

		if err := s.sleep(ctx, state.Wait); err != nil {
			return zero, err
		}
	}
}

func (s *Supervisor) fail() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.backoff.Next(s.state)
	metrics.RetryWait.Set(s.state.Wait.Seconds())
	return s.state
}

func (s *Supervisor) succeed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.backoff.Reset()
	metrics.RetryWait.Set(0)
}
