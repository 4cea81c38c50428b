package license

import (
	"fmt"
	"time"
)

// StateKind identifies one of the six validation outcomes.
type StateKind string

const (
	StateValid   StateKind = "valid"
	StateGrace   StateKind = "grace"
	StateExpired StateKind = "expired"
	StateMissing StateKind = "missing"
	StateInvalid StateKind = "invalid"
	StateError   StateKind = "error"
)

// State is the outcome of a single validation call. Exactly one state is
// produced per call; Remaining is set only for grace, Reason only for
// invalid and error.
type State struct {
	Kind      StateKind     `json:"kind"`
	Remaining time.Duration `json:"remaining,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// Valid returns the state for a license within its validity window.
func Valid() State {
	return State{Kind: StateValid}
}

// Grace returns the state for a license past expiry but within its
// tier's grace window.
func Grace(remaining time.Duration) State {
	return State{Kind: StateGrace, Remaining: remaining}
}

// Expired returns the state for a license past expiry and grace.
func Expired() State {
	return State{Kind: StateExpired}
}

// Missing returns the state for a component that carries no token at all.
func Missing() State {
	return State{Kind: StateMissing}
}

// Invalid returns the state for a token that fails verification.
func Invalid(reason string) State {
	return State{Kind: StateInvalid, Reason: reason}
}

// ErrorState returns the state for an infrastructure failure, such as an
// unavailable public key.
func ErrorState(reason string) State {
	return State{Kind: StateError, Reason: reason}
}

// Admissible reports whether a component with this state may load.
// Valid and grace both admit; grace is surfaced separately by the caller.
func (s State) Admissible() bool {
	return s.Kind == StateValid || s.Kind == StateGrace
}

// ExitCode maps the state to the stable CLI exit code contract:
// 0=valid, 1=grace, 2=expired, 3=missing, 4=invalid, 5=error.
// Other tooling branches on these values; do not renumber.
func (s State) ExitCode() int {
	switch s.Kind {
	case StateValid:
		return 0
	case StateGrace:
		return 1
	case StateExpired:
		return 2
	case StateMissing:
		return 3
	case StateInvalid:
		return 4
	default:
		return 5
	}
}

// String renders the state as a human-readable reason. Rejection reasons in
// load decisions carry this text verbatim.
func (s State) String() string {
	switch s.Kind {
	case StateGrace:
		return fmt.Sprintf("grace (%s remaining)", s.Remaining)
	case StateInvalid:
		return "invalid: " + s.Reason
	case StateError:
		return "error: " + s.Reason
	default:
		return string(s.Kind)
	}
}
