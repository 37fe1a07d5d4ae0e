package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks fatal configuration problems: unknown region or
	// model names, malformed path templates. These are never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrDataUnavailable marks data that could not be located for a call: no
	// accessible grid file within the lead-time budget, or a requested model
	// timestamp absent from the grid. Callers may move on to the next date.
	ErrDataUnavailable = errors.New("data unavailable")
)

// Step names the resolution step that failed.
type Step string

const (
	StepFileResolution Step = "file_resolution"
	StepRegion         Step = "region"
	StepTimestamp      Step = "timestamp"
	StepGridRead       Step = "grid_read"
	StepObservations   Step = "observations"
)

// StepError reports which step of a collocation failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// NewStepError wraps err with the failing step.
func NewStepError(step Step, err error) error {
	return &StepError{Step: step, Err: err}
}

// Configurationf returns an ErrConfiguration-wrapped error.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Unavailablef returns an ErrDataUnavailable-wrapped error.
func Unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataUnavailable, fmt.Sprintf(format, args...))
}

// FailedStep returns the step recorded in err, or "" if err carries none.
func FailedStep(err error) Step {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}
