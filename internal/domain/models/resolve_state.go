package models

// ResolveState is the lifecycle stage of an in-memory object relative to the store
type ResolveState int

const (
	// StateTransient - object was created in memory and has never been persisted
	StateTransient ResolveState = iota
	// StateResolving - payload is being loaded or persisted
	StateResolving
	// StateResolved - payload is loaded and in sync with a stored version
	StateResolved
	// StateGhost - identifier is known, payload is not loaded yet
	StateGhost
	// StateDestroyed - object was removed from the store
	StateDestroyed
)

var resolveStateNames = map[ResolveState]string{
	StateTransient: "Transient",
	StateResolving: "Resolving",
	StateResolved:  "Resolved",
	StateGhost:     "Ghost",
	StateDestroyed: "Destroyed",
}

// AllResolveStates lists every resolve state
var AllResolveStates = []ResolveState{
	StateTransient,
	StateResolving,
	StateResolved,
	StateGhost,
	StateDestroyed,
}

// String stringer interface impl
func (s ResolveState) String() string {
	if name, ok := resolveStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

type stateEdge struct {
	from, to ResolveState
}

var legalTransitions = map[stateEdge]struct{}{
	{StateTransient, StateResolving}: {},
	{StateGhost, StateResolving}:     {},
	{StateResolving, StateResolved}:  {},
	{StateResolved, StateDestroyed}:  {},
}

// CanTransition reports whether the state machine allows moving from one state to another
func CanTransition(from, to ResolveState) bool {
	_, ok := legalTransitions[stateEdge{from, to}]
	return ok
}

// Transition moves the adapter to state to, or fails with IllegalStateTransitionError
// leaving the adapter untouched.
func Transition(a *ObjectAdapter, to ResolveState) error {
	if !CanTransition(a.state, to) {
		return &IllegalStateTransitionError{From: a.state, To: to}
	}
	a.state = to
	return nil
}
