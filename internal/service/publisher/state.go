package publisher

import (
	"errors"
	"fmt"
)

// State is a step of the publishing state machine.
type State string

// States of a run. UpToDate, Done and Failed are terminal.
const (
	StateStart      State = "start"
	StateArchiving  State = "archiving"
	StateComparing  State = "comparing"
	StateUpToDate   State = "up_to_date"
	StateGenerating State = "generating"
	StatePublishing State = "publishing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

var errInvalidTransition = errors.New("invalid state transition")

// IsTerminal reports whether the run has finished in s.
func (s State) IsTerminal() bool {
	switch s {
	case StateUpToDate, StateDone, StateFailed:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	return string(s)
}

func isAllowedTransition(from, to State) bool {
	if to == StateFailed {
		return !from.IsTerminal()
	}

	switch from {
	case StateStart:
		return to == StateArchiving
	case StateArchiving:
		return to == StateComparing
	case StateComparing:
		return to == StateUpToDate || to == StateGenerating
	case StateGenerating:
		// Dry runs finish without publishing.
		return to == StatePublishing || to == StateDone
	case StatePublishing:
		return to == StateDone
	default:
		return false
	}
}

func transition(from, to State) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", errInvalidTransition, from, to)
	}

	return nil
}
