package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrTerminated means the finish_task sentinel already ended the
	// agent; further turns are rejected.
	ErrTerminated = errors.New("agent terminated")

	// ErrCanceled means the user aborted the turn. It is never logged
	// as an error.
	ErrCanceled = errors.New("canceled by user")

	// ErrMaxRounds means a turn exceeded its configured round limit.
	ErrMaxRounds = errors.New("max rounds exceeded")
)

// TurnError reports where in the state machine a turn failed.
type TurnError struct {
	State State
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed in %s: %v", e.State, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }
