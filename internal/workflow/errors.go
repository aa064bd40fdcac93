package workflow

import (
	"errors"
	"fmt"

	"IssueAssembler/internal/domain"
)

// ErrStepTimeout marks an attempt that exceeded its wall-clock budget.
var ErrStepTimeout = errors.New("step exceeded its time budget")

// ErrorKind categorizes step failures.
type ErrorKind string

const (
	KindStepFailed  ErrorKind = "step_failed"
	KindStepTimeout ErrorKind = "step_timeout"
	KindInvariant   ErrorKind = "invariant"
)

// StepError is returned once a step has exhausted its attempts or hit an invariant error.
type StepError struct {
	Kind       ErrorKind
	Checkpoint domain.Checkpoint
	ModuleID   string
	Attempts   int
	Err        error
}

func (e *StepError) Error() string {
	where := e.Checkpoint.String()
	if e.ModuleID != "" {
		where = fmt.Sprintf("%s (module=%s)", where, e.ModuleID)
	}
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", e.Kind, where, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err was caused by a step timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrStepTimeout)
}

// AsStepError extracts a StepError from a wrapped chain.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
