package pipeline

import "fmt"

// State is where a camera or stream sits in the per-tick cycle.
type State int

const (
	// StateIdle means neither display nor recording is requested, or, for
	// a Stream, that no frame size has been learned yet.
	StateIdle State = iota
	// StateArmed means the loop is waiting for a frame.
	StateArmed
	// StateProcessing is held for the duration of one decode, annotate and
	// sink pass.
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
