package relay

// State tracks what the outbound (model to caller) leg is doing with
// generated chunks.
type State int

const (
	// StateNormal forwards chunks to the caller verbatim.
	StateNormal State = iota

	// StateSuppressed swallows the remainder of the current generation
	// stream, including its terminal chunk, then returns to normal.
	StateSuppressed

	// StateAwaitingClarification swallows every chunk while a
	// supervisor hold is pending; an override resolves it.
	StateAwaitingClarification
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateSuppressed:
		return "suppressed"
	case StateAwaitingClarification:
		return "awaiting_clarification"
	default:
		return "unknown"
	}
}
