package contract

import "errors"

// Failure taxonomy. Every external call wraps one of these sentinels so the
// retry policy can decide without inspecting transport details.
var (
	// ErrTransient marks failures likely to succeed on retry: timeouts,
	// rate limits, transport hiccups, 5xx responses.
	ErrTransient = errors.New("transient external failure")

	// ErrValidation marks malformed input or responses. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownAction marks an action request whose name is not registered.
	ErrUnknownAction = errors.New("unknown action")

	// ErrConfiguration marks missing required credentials or identifiers.
	// Fatal for the run, surfaced immediately.
	ErrConfiguration = errors.New("configuration error")

	// ErrContactBusy is returned when a second run for the same contact
	// arrives mid-flight and busy rejection is enabled.
	ErrContactBusy = errors.New("contact has a run in flight")
)

// IsTransient reports whether err should be retried under the retry policy.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
