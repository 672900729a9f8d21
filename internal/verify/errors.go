package verify

import (
	"errors"
	"fmt"
)

// Class separates failures caused by the page from failures of the
// environment the check ran in.
type Class string

const (
	// ClassAssertion means the page did not reach an expected state in time.
	ClassAssertion Class = "assertion"
	// ClassEnvironment covers launch, navigation, network-idle, screenshot
	// and cancellation failures.
	ClassEnvironment Class = "environment"
)

// ErrAssertionFailed is wrapped by every unmet expectation.
var ErrAssertionFailed = errors.New("assertion failed")

// StepError is returned by Runner.Run for the step that stopped the run.
type StepError struct {
	Step  string
	Class Class
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed (%s): %v", e.Step, e.Class, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ClassOf reports the failure class carried by err, or "" when err is nil or
// was not produced by a run.
func ClassOf(err error) Class {
	var se *StepError
	if errors.As(err, &se) {
		return se.Class
	}
	return ""
}

func classify(err error) Class {
	if errors.Is(err, ErrAssertionFailed) {
		return ClassAssertion
	}
	return ClassEnvironment
}
