// Package health provides loop health monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/catalog-etl/internal/core/domain"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// SinkHealth reports reachability of the load target.
type SinkHealth struct {
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus        SystemStatus       `json:"system_status"`
	State               domain.LoopState   `json:"state"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	LastError           string             `json:"last_error,omitempty"`
	LastSuccess         *time.Time         `json:"last_success,omitempty"`
	LastCycle           *domain.CycleStats `json:"last_cycle,omitempty"`
	Sink                *SinkHealth        `json:"sink,omitempty"`
}
