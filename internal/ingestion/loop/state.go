package loop

import "github.com/vietddude/catalog-etl/internal/core/domain"

// State is an alias for domain.LoopState for internal use.
type State = domain.LoopState

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	domain.LoopStateIdle:       {domain.LoopStateConnecting, domain.LoopStateStopped},
	domain.LoopStateConnecting: {domain.LoopStateLoading, domain.LoopStateBackoff, domain.LoopStateStopped},
	domain.LoopStateLoading:    {domain.LoopStateSleeping, domain.LoopStateBackoff, domain.LoopStateIdle, domain.LoopStateStopped},
	domain.LoopStateBackoff:    {domain.LoopStateConnecting, domain.LoopStateStopped},
	domain.LoopStateSleeping:   {domain.LoopStateConnecting, domain.LoopStateStopped},
	domain.LoopStateStopped:    {domain.LoopStateConnecting},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case domain.LoopStateIdle:
		return "Waiting to start"
	case domain.LoopStateConnecting:
		return "Acquiring sink connection and opening the catalog"
	case domain.LoopStateLoading:
		return "Extracting and loading batches"
	case domain.LoopStateBackoff:
		return "Waiting to retry a failed cycle"
	case domain.LoopStateSleeping:
		return "Waiting for the next cycle"
	case domain.LoopStateStopped:
		return "Stopped"
	default:
		return "Unknown state"
	}
}
