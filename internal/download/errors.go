package download

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineStopped is returned when a command is sent after the engine loop exited.
	ErrEngineStopped = errors.New("engine stopped")
	// ErrJobNotFound is returned when a job ID has no record.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when a job ID is already taken.
	ErrJobExists = errors.New("job already exists")
	// ErrJobNotTerminal is returned when removing a job that can still change state.
	ErrJobNotTerminal = errors.New("job not terminal")
)

// ValidationError reports a malformed submission. The job is never created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError wraps a fetch/save failure for a single attempt.
type TransportError struct {
	TransportID string
	Err         error
}

func (e *TransportError) Error() string {
	if e.TransportID == "" {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.TransportID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TransitionError reports an attempt to move a job outside the state machine.
type TransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: illegal transition %s -> %s", e.JobID, e.From, e.To)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
