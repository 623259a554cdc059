// Package stormerr defines the error kinds shared by the evaluation engine.
//
// Callers classify failures with errors.Is against the sentinel values and
// use errors.As to recover detail from the typed wrappers.
package stormerr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDataInsufficient reports that an interval or fold holds too few rows.
	ErrDataInsufficient = errors.New("data insufficient")

	// ErrNoMatchingOutcome reports that no measurement lies within tolerance
	// of a prediction target.
	ErrNoMatchingOutcome = errors.New("no matching outcome")

	// ErrRunFailed is fatal for a single invocation.
	ErrRunFailed = errors.New("run failed")

	// ErrOracleInvocation wraps any failure returned by a forecast oracle.
	ErrOracleInvocation = errors.New("oracle invocation failed")

	// ErrInvalidParams reports a rejected argument.
	ErrInvalidParams = errors.New("invalid parameters")
)

// DataInsufficientError carries the exact row count that was available.
type DataInsufficientError struct {
	What string
	Have int
	Need int
}

func (e *DataInsufficientError) Error() string {
	return fmt.Sprintf("insufficient %s: need at least %d, got %d", e.What, e.Need, e.Have)
}

func (e *DataInsufficientError) Is(target error) bool {
	return target == ErrDataInsufficient
}

// OracleError records which tick an oracle failure belongs to.
type OracleError struct {
	Tick time.Time
	Err  error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle at %s: %v", e.Tick.UTC().Format(time.RFC3339), e.Err)
}

func (e *OracleError) Is(target error) bool {
	return target == ErrOracleInvocation
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

// runFailed joins ErrRunFailed with an optional cause so both stay matchable.
type runFailed struct {
	reason string
	cause  error
}

func (e *runFailed) Error() string {
	return "run failed: " + e.reason
}

func (e *runFailed) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrRunFailed}
	}
	return []error{ErrRunFailed, e.cause}
}

// RunFailed builds a human-readable fatal error for one invocation.
func RunFailed(format string, args ...any) error {
	return &runFailed{reason: fmt.Sprintf(format, args...)}
}

// InvalidRun reports parameter validation failures as a failed run.
// The result matches both ErrRunFailed and ErrInvalidParams.
func InvalidRun(format string, args ...any) error {
	return &runFailed{reason: fmt.Sprintf(format, args...), cause: ErrInvalidParams}
}

// Invalid wraps ErrInvalidParams with a message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}
