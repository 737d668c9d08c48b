package domain

import "time"

// LoopState is the lifecycle state of the ingestion loop.
type LoopState string

const (
	LoopStateIdle       LoopState = "idle"
	LoopStateConnecting LoopState = "connecting"
	LoopStateLoading    LoopState = "loading"
	LoopStateBackoff    LoopState = "backoff"
	LoopStateSleeping   LoopState = "sleeping"
	LoopStateStopped    LoopState = "stopped"
)

// CycleStats summarizes one extract-and-load pass over the source.
type CycleStats struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Categories int           `json:"categories"`
	Batches    int           `json:"batches"`
	Records    int           `json:"records"`
	Inserted   int64         `json:"inserted"`
	Skipped    int64         `json:"skipped"`
}
