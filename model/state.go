package model

import "encoding/json"

// WidgetState is the lifecycle state of one visibility widget.
type WidgetState int

const (
	// StateIdle waits for an observer position.
	StateIdle WidgetState = iota
	// StateLoading has the first catalog fetch in flight.
	StateLoading
	// StateActive computes against a freshly fetched catalog.
	StateActive
	// StateDegraded computes against a stale or empty catalog.
	StateDegraded
	// StateTerminated has been torn down.
	StateTerminated
)

var widgetStateNames = [...]string{"idle", "loading", "active", "degraded", "terminated"}

func (s WidgetState) String() string {
	if s < 0 || int(s) >= len(widgetStateNames) {
		return "unknown"
	}
	return widgetStateNames[s]
}

// AllWidgetStates lists every state in declaration order.
func AllWidgetStates() []WidgetState {
	return []WidgetState{StateIdle, StateLoading, StateActive, StateDegraded, StateTerminated}
}

// Computing reports whether periodic computation runs in this state.
func (s WidgetState) Computing() bool {
	return s == StateActive || s == StateDegraded
}

// MarshalJSON renders the state as its name.
func (s WidgetState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
