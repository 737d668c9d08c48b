// Package loop drives repeated extract-and-load cycles over the catalog.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/catalog-etl/internal/core/domain"
	"github.com/vietddude/catalog-etl/internal/extract"
	"github.com/vietddude/catalog-etl/internal/infra/storage"
	"github.com/vietddude/catalog-etl/internal/ingestion/metrics"
	"github.com/vietddude/catalog-etl/internal/ingestion/recovery"
)

var (
	// ErrCycleLocked is returned when another process holds the cycle lock.
	ErrCycleLocked = errors.New("cycle lock held by another process")

	// ErrCycleLockLost is returned when the lock expired or was taken over mid-cycle.
	ErrCycleLockLost = errors.New("cycle lock lost")
)

// CycleLock guards a target against concurrent cycles from several processes.
// Refresh is called after every batch and reports whether the lock is still held.
type CycleLock interface {
	TryLock(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// RunRecorder persists the summary of successful cycles.
type RunRecorder interface {
	RecordRun(ctx context.Context, stats domain.CycleStats) error
}

// Observer is notified about cycle outcomes and state changes.
type Observer interface {
	StateChanged(state domain.LoopState)
	CycleSucceeded(stats domain.CycleStats)
	CycleFailed(err error)
}

// Config holds the loop's dependencies and cadence.
type Config struct {
	Interval   time.Duration
	Extractor  *extract.Extractor
	Sink       storage.SinkConnector
	Supervisor *recovery.Supervisor

	// Optional
	Lock     CycleLock
	Recorder RunRecorder
	Observer Observer
	Sleep    recovery.SleepFunc
}

// Loop runs one cycle at a time: connect, extract and load every batch,
// then sleep. A failed cycle is retried from scratch by the supervisor.
type Loop struct {
	cfg     Config
	running atomic.Bool
	log     *slog.Logger

	mu    sync.Mutex
	state State
}

// New creates a loop in the idle state.
func New(cfg Config) *Loop {
	if cfg.Sleep == nil {
		cfg.Sleep = recovery.Sleep
	}
	return &Loop{
		cfg:   cfg,
		state: domain.LoopStateIdle,
		log:   slog.Default().With("component", "loop"),
	}
}

// State returns the current loop state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Run repeats cycles until ctx is cancelled. Cancellation is not an error.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("loop already running")
	}
	defer l.running.Store(false)
	defer l.transition(domain.LoopStateStopped)

	for {
		if _, err := l.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		l.transition(domain.LoopStateSleeping)
		l.log.Info("Sleeping before next cycle", "interval", l.cfg.Interval)
		if err := l.cfg.Sleep(ctx, l.cfg.Interval); err != nil {
			return nil
		}
	}
}

// RunOnce runs a single cycle under the supervisor, retrying until it succeeds.
func (l *Loop) RunOnce(ctx context.Context) (domain.CycleStats, error) {
	return recovery.Do(ctx, l.cfg.Supervisor, "ingestion cycle", l.cycle)
}

func (l *Loop) cycle(ctx context.Context) (stats domain.CycleStats, err error) {
	l.transition(domain.LoopStateConnecting)
	stats.StartedAt = time.Now()

	defer func() {
		if err == nil {
			return
		}
		metrics.CyclesTotal.WithLabelValues("failure").Inc()
		if l.cfg.Observer != nil {
			l.cfg.Observer.CycleFailed(err)
		}
		if ctx.Err() == nil {
			l.transition(domain.LoopStateBackoff)
		}
	}()

	if l.cfg.Lock != nil {
		ok, err := l.cfg.Lock.TryLock(ctx)
		if err != nil {
			return stats, fmt.Errorf("failed to take cycle lock: %w", err)
		}
		if !ok {
			return stats, ErrCycleLocked
		}
		defer func() {
			if err := l.cfg.Lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				l.log.Warn("Failed to release cycle lock", "error", err)
			}
		}()
	}

	sink, err := l.cfg.Sink.Acquire(ctx)
	if err != nil {
		return stats, err
	}
	defer sink.Close()

	cur, err := l.cfg.Extractor.Open(ctx)
	if err != nil {
		return stats, err
	}
	defer cur.Close()

	stats.Categories = cur.Index().Len()
	metrics.Categories.Set(float64(stats.Categories))
	l.transition(domain.LoopStateLoading)

	for {
		batch, err := cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("extraction failed after %d records: %w", stats.Records, err)
		}
		metrics.RecordsExtracted.Add(float64(len(batch)))

		inserted, err := sink.SaveBatch(ctx, batch)
		if err != nil {
			return stats, fmt.Errorf("failed to load batch %d: %w", stats.Batches+1, err)
		}
		metrics.BatchesLoaded.Inc()
		metrics.RecordsInserted.Add(float64(inserted))

		stats.Batches++
		stats.Records += len(batch)
		stats.Inserted += inserted
		stats.Skipped += int64(len(batch)) - inserted
		l.log.Info("Loaded batch", "batch", stats.Batches, "rows", len(batch), "inserted", inserted)

		if l.cfg.Lock != nil {
			held, err := l.cfg.Lock.Refresh(ctx)
			if err != nil {
				return stats, fmt.Errorf("failed to refresh cycle lock: %w", err)
			}
			if !held {
				return stats, ErrCycleLockLost
			}
		}
	}

	stats.FinishedAt = time.Now()
	stats.Duration = stats.FinishedAt.Sub(stats.StartedAt)

	metrics.CyclesTotal.WithLabelValues("success").Inc()
	metrics.CycleDuration.Observe(stats.Duration.Seconds())
	metrics.LastSuccess.Set(float64(stats.FinishedAt.Unix()))
	l.log.Info("Cycle finished",
		"batches", stats.Batches,
		"records", stats.Records,
		"inserted", stats.Inserted,
		"duration", stats.Duration,
	)

	if l.cfg.Recorder != nil {
		if err := l.cfg.Recorder.RecordRun(ctx, stats); err != nil {
			l.log.Warn("Failed to record run summary", "error", err)
		}
	}
	if l.cfg.Observer != nil {
		l.cfg.Observer.CycleSucceeded(stats)
	}
	return stats, nil
}

func (l *Loop) transition(to State) {
	l.mu.Lock()
	from := l.state
	if from == to {
		l.mu.Unlock()
		return
	}
	if !CanTransition(from, to) {
		l.log.Warn("Unexpected loop transition", "from", from, "to", to)
	}
	l.state = to
	l.mu.Unlock()

	l.log.Debug("Loop state changed", "from", from, "to", to, "description", StateDescription(to))
	if l.cfg.Observer != nil {
		l.cfg.Observer.StateChanged(to)
	}
}
