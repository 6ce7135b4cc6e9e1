package sweeperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure so callers can decide how to present and recover from it
type Kind string

const (
	KindConfiguration Kind = "configuration"  // Missing endpoint, API key or signing key
	KindNetwork       Kind = "network"        // Transport failure reaching a remote service
	KindProvider      Kind = "provider"       // Remote service answered with an explicit failure
	KindValidation    Kind = "validation"     // Inputs that can never produce a valid sweep
	KindDeploymentGap Kind = "deployment_gap" // Source chain has no sweep contract
	KindSubmission    Kind = "submission"     // On-chain call rejected or reverted
)

// Steps of the sweep workflow used to tell the user what to retry
const (
	StepConfig       = "config"
	StepBalance      = "balance"
	StepPrices       = "prices"
	StepPreviewQuote = "preview_quote"
	StepFinalQuote   = "final_quote"
	StepEligibility  = "eligibility"
	StepSubmit       = "submit"
)

// Error is the single error type that crosses package boundaries in the sweeper
type Error struct {
	Kind    Kind
	Step    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Step != "" {
		return fmt.Sprintf("%s (%s)", msg, e.Step)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Cause lets errors.Cause from github.com/pkg/errors see through the wrapper.
func (e *Error) Cause() error { return e.Err }

func newError(kind Kind, step, message string, err error) *Error {
	return &Error{Kind: kind, Step: step, Message: message, Err: err}
}

func Configuration(message string) *Error {
	return newError(KindConfiguration, StepConfig, message, nil)
}

func Network(step string, err error) *Error {
	return newError(KindNetwork, step, "network error", err)
}

func Provider(step, message string) *Error {
	return newError(KindProvider, step, message, nil)
}

func Validation(step, message string) *Error {
	return newError(KindValidation, step, message, nil)
}

func DeploymentGap(chainName string) *Error {
	return newError(KindDeploymentGap, StepEligibility, fmt.Sprintf("sweeping is not available on %s yet", chainName), nil)
}

func Submission(err error) *Error {
	return newError(KindSubmission, StepSubmit, "", err)
}

// WithStep returns a copy of err re-tagged with a different step and message prefix.
// Non-sweeper errors are treated as network failures.
func WithStep(err error, step, message string) *Error {
	var se *Error
	if errors.As(err, &se) {
		return newError(se.Kind, step, message, se)
	}
	return newError(KindNetwork, step, message, err)
}

// KindOf returns the kind of the outermost sweeper error in the chain, or "" if there is none
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// StepOf returns the step recorded by the outermost sweeper error
func StepOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

// IsRetryable reports whether repeating the same action without changing inputs may succeed
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindSubmission:
		return true
	default:
		return false
	}
}
