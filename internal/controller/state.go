package controller

import (
	"context"
	"errors"
	"fmt"
)

// State is the controller's position in the login/launch flow.
type State int

const (
	AwaitingLogin State = iota
	CredentialsEntered
	// AwaitingGuard means a code was rejected and the generator has not yet
	// moved to a new time step, so there is nothing new to submit.
	AwaitingGuard
	GuardSubmitted
	Launching
	AwaitingPostLaunchPopup
	Stopped
)

var stateNames = [...]string{
	AwaitingLogin:           "AwaitingLogin",
	CredentialsEntered:      "CredentialsEntered",
	AwaitingGuard:           "AwaitingGuard",
	GuardSubmitted:          "GuardSubmitted",
	Launching:               "Launching",
	AwaitingPostLaunchPopup: "AwaitingPostLaunchPopup",
	Stopped:                 "Stopped",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal failures. Each is delivered wrapped in a *StopError.
var (
	ErrCredentialsRejected = errors.New("credentials rejected")
	ErrGuardRejected       = errors.New("guard code rejected")
	ErrUpdateTimeout       = errors.New("update did not finish in time")
)

// Outcome labels recorded for a finished run.
const (
	OutcomeSucceeded           = "succeeded"
	OutcomeInterrupted         = "interrupted"
	OutcomeCredentialsRejected = "credentials_rejected"
	OutcomeGuardRejected       = "guard_rejected"
	OutcomeUpdateTimeout       = "update_timeout"
	OutcomeFailed              = "failed"
)

// StopError ends a run. Reason is the user-facing explanation.
type StopError struct {
	State  State // state the controller was in when it stopped
	Reason string
	Err    error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stopped in %s: %s", e.State, e.Reason)
}

func (e *StopError) Unwrap() error { return e.Err }

// Outcome maps a Run result to its journal label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, ErrCredentialsRejected):
		return OutcomeCredentialsRejected
	case errors.Is(err, ErrGuardRejected):
		return OutcomeGuardRejected
	case errors.Is(err, ErrUpdateTimeout):
		return OutcomeUpdateTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeInterrupted
	default:
		return OutcomeFailed
	}
}
