// Package errors provides the agent's error-kind taxonomy (spec'd in the
// core's error handling design) and a validation-errors accumulator used by
// config loading.
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind enumerates the recovery/visibility classes a failure can fall into.
// These are not Go error types; every failure in the agent is represented
// by a single *Error carrying one Kind.
type Kind string

const (
	ConfigInvalid       Kind = "config_invalid"
	ServerUnreachable    Kind = "server_unreachable"
	ClaimLost            Kind = "claim_lost"
	ConnectionFailed     Kind = "connection_failed"
	LoginFailed          Kind = "login_failed"
	SessionLimit         Kind = "session_limit"
	NavigationStuck      Kind = "navigation_stuck"
	ClarificationNeeded  Kind = "clarification_needed"
	ToolDispatchError    Kind = "tool_dispatch_error"
	ReasonerRateLimited  Kind = "reasoner_rate_limited"
	ReasonerProtocolError Kind = "reasoner_protocol_error"
	SubmitResultFailed   Kind = "submit_result_failed"
	Internal             Kind = "internal"
)

// httpStatus is only consulted by the agent's optional local status surface;
// the wire protocol to job servers never reflects these.
var httpStatus = map[Kind]int{
	ConfigInvalid:         http.StatusInternalServerError,
	ServerUnreachable:     http.StatusBadGateway,
	ClaimLost:             http.StatusConflict,
	ConnectionFailed:      http.StatusBadGateway,
	LoginFailed:           http.StatusUnauthorized,
	SessionLimit:          http.StatusServiceUnavailable,
	NavigationStuck:       http.StatusUnprocessableEntity,
	ClarificationNeeded:   http.StatusOK,
	ToolDispatchError:     http.StatusBadRequest,
	ReasonerRateLimited:   http.StatusTooManyRequests,
	ReasonerProtocolError: http.StatusBadGateway,
	SubmitResultFailed:    http.StatusBadGateway,
	Internal:              http.StatusInternalServerError,
}

// Error is the agent's single error type. Every Kind above is carried by
// one of these rather than by a distinct Go type, so callers branch on
// Kind rather than on type assertions beyond the outer *Error itself.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status code the local status surface should use
// when rendering this error; defaults to 500 for unmapped kinds.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// E constructs an *Error of the given kind wrapping err.
func E(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// M constructs an *Error of the given kind with a plain message, no
// wrapped cause.
func M(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a message to an existing error under the given kind.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// ValidationErrors accumulates named field violations so config validation
// can report every problem at once instead of failing on the first.
type ValidationErrors struct {
	violations []string
}

// ValidationErrs returns a new, empty accumulator.
func ValidationErrs() *ValidationErrors {
	return &ValidationErrors{}
}

// Add records a violation against a named field.
func (v *ValidationErrors) Add(field, message string) {
	v.violations = append(v.violations, fmt.Sprintf("%s: %s", field, message))
}

// Err returns nil if no violations were recorded, otherwise a
// *Error of kind ConfigInvalid listing all of them.
func (v *ValidationErrors) Err() error {
	if len(v.violations) == 0 {
		return nil
	}
	return M(ConfigInvalid, strings.Join(v.violations, "; "))
}
