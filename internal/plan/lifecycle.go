package plan

import (
	"errors"
	"fmt"
)

// Sentinel errors for state transition validation.
// These can be used with errors.Is() for error checking.
var (
	// ErrBadState indicates a transition the state machine does not permit,
	// or run fields that do not match the target state.
	ErrBadState = errors.New("invalid state transition")

	// ErrPaused indicates a non-terminal state advance on a paused dataset.
	ErrPaused = errors.New("dataset is paused")

	// ErrDisabled indicates a state change on a quarantined data product.
	// The only exit from disabled is the re-enable back to waiting.
	ErrDisabled = errors.New("data product is disabled")
)

// validTransitions is the allowed transition set. disabled is reachable from
// every non-terminal state; success and failed are immutable.
var validTransitions = map[State]map[State]bool{
	StateWaiting:  {StateQueued: true, StateDisabled: true},
	StateQueued:   {StateRunning: true, StateDisabled: true},
	StateRunning:  {StateSuccess: true, StateFailed: true, StateDisabled: true},
	StateSuccess:  {},
	StateFailed:   {},
	StateDisabled: {StateWaiting: true},
}

// ValidateStateChange checks a requested state change against the product's
// current state and the owning dataset's pause flag.
//
// Gate order: quarantine, then pause, then the transition map, then run
// fields. A disabled product reports ErrDisabled for anything but the
// re-enable so callers can distinguish quarantine from an ordinary illegal
// transition. A paused dataset blocks every transition whose target is
// non-terminal; completions and quarantines still land so in-flight runs can
// finish while paused.
func ValidateStateChange(current State, paused bool, param StateParam) error {
	if current == StateDisabled && param.State != StateWaiting {
		return fmt.Errorf("%w: cannot set state %s until re-enabled", ErrDisabled, param.State)
	}

	if paused && !param.State.IsTerminal() {
		return fmt.Errorf("%w: cannot advance to %s", ErrPaused, param.State)
	}

	if err := ValidateTransition(current, param.State); err != nil {
		return err
	}

	return ValidateRunFields(param)
}

// ValidateTransition checks a single transition against the allowed set.
func ValidateTransition(from, to State) error {
	if !validTransitions[from][to] {
		return fmt.Errorf("%w: %s -> %s", ErrBadState, from, to)
	}

	return nil
}

// ValidateRunFields checks that the run fields carried by a state change
// match the target state: success requires run_id and link, failed requires
// run_id, and non-run-bearing targets must not carry run fields at all
// (the update writes them verbatim, so a re-enable resets them to NULL).
func ValidateRunFields(param StateParam) error {
	switch param.State {
	case StateSuccess:
		if param.RunID == nil {
			return fmt.Errorf("%w: state success requires run_id", ErrBadState)
		}

		if param.Link == nil {
			return fmt.Errorf("%w: state success requires link", ErrBadState)
		}
	case StateFailed:
		if param.RunID == nil {
			return fmt.Errorf("%w: state failed requires run_id", ErrBadState)
		}
	case StateRunning:
		// Run fields are optional while running.
	default:
		if param.RunID != nil {
			return fmt.Errorf("%w: run_id not allowed for state %s", ErrBadState, param.State)
		}

		if param.Link != nil {
			return fmt.Errorf("%w: link not allowed for state %s", ErrBadState, param.State)
		}

		if param.Passback != nil {
			return fmt.Errorf("%w: passback not allowed for state %s", ErrBadState, param.State)
		}
	}

	return nil
}
