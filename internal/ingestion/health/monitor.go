package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/catalog-etl/internal/core/domain"
)

const (
	DefaultFailureThreshold = 5
	DefaultStaleAfter       = time.Hour
)

// Pinger checks that the sink is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// Monitor tracks loop outcomes and derives a health status from them.
// It implements loop.Observer.
type Monitor struct {
	sink             Pinger
	failureThreshold int
	staleAfter       time.Duration
	now              func() time.Time

	mu          sync.RWMutex
	startedAt   time.Time
	state       domain.LoopState
	failures    int
	lastError   string
	lastSuccess time.Time
	lastCycle   *domain.CycleStats
}

// NewMonitor creates a new health monitor. sink may be nil.
func NewMonitor(sink Pinger, failureThreshold int, staleAfter time.Duration) *Monitor {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Monitor{
		sink:             sink,
		failureThreshold: failureThreshold,
		staleAfter:       staleAfter,
		now:              time.Now,
		startedAt:        time.Now(),
		state:            domain.LoopStateIdle,
	}
}

func (m *Monitor) StateChanged(state domain.LoopState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

func (m *Monitor) CycleSucceeded(stats domain.CycleStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
	m.lastError = ""
	m.lastSuccess = m.now()
	m.lastCycle = &stats
}

func (m *Monitor) CycleFailed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	m.lastError = err.Error()
}

// CheckHealth builds a report from the recorded outcomes and a sink health check.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.RLock()
	report := HealthReport{
		SystemStatus:        StatusHealthy,
		State:               m.state,
		ConsecutiveFailures: m.failures,
		LastError:           m.lastError,
		LastCycle:           m.lastCycle,
	}
	reference := m.startedAt
	if !m.lastSuccess.IsZero() {
		last := m.lastSuccess
		report.LastSuccess = &last
		reference = last
	}
	now := m.now()
	m.mu.RUnlock()

	if m.sink != nil {
		sink := &SinkHealth{Status: StatusHealthy}
		if err := m.sink.Health(ctx); err != nil {
			sink.Status = StatusDegraded
			sink.Error = err.Error()
		}
		report.Sink = sink
	}

	stale := now.Sub(reference) > m.staleAfter
	switch {
	case report.ConsecutiveFailures >= m.failureThreshold || stale:
		report.SystemStatus = StatusCritical
	case report.ConsecutiveFailures > 0 || (report.Sink != nil && report.Sink.Status != StatusHealthy):
		report.SystemStatus = StatusDegraded
	}
	return report
}
