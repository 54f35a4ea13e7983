package runner

import "strings"

// State is the internal three-state view of a runner-reported task status.
type State string

const (
	StateUnknown   State = "unknown"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// statusStates maps lowercased runner-native status strings to internal
// states. The runner reports completion under several equivalent terms; new
// synonyms are a one-line addition here.
var statusStates = map[string]State{
	"successcriteriamet": StateCompleted,
	"completed":          StateCompleted,
	"complete":           StateCompleted,
	"success":            StateCompleted,
	"succeeded":          StateCompleted,

	"failed":      StateFailed,
	"failure":     StateFailed,
	"error":       StateFailed,
	"timedout":    StateFailed,
	"cancelled":   StateFailed,
	"canceled":    StateFailed,

	"running":    StateRunning,
	"inprogress": StateRunning,
	"executing":  StateRunning,
	"starting":   StateRunning,
	"pending":    StateRunning,
	"queued":     StateRunning,
}

// Normalize maps a runner-native status string to the internal state enum.
// Unrecognized statuses normalize to StateUnknown and callers keep polling.
func Normalize(status string) State {
	if state, ok := statusStates[strings.ToLower(strings.TrimSpace(status))]; ok {
		return state
	}
	return StateUnknown
}
