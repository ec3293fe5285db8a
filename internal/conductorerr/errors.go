// Package conductorerr classifies the failure kinds the conductor's
// components raise, mirroring the propagation policy: most kinds resolve
// a single request with a negative injection and are otherwise swallowed;
// only ConfigInvalid and ChildSpawnFailed are fatal to the process.
package conductorerr

import "fmt"

// Kind names one of the conductor's error categories.
type Kind string

const (
	ConfigInvalid         Kind = "ConfigInvalid"
	ChildSpawnFailed      Kind = "ChildSpawnFailed"
	StdinUnwritable       Kind = "StdinUnwritable"
	AnalyzerTransient     Kind = "AnalyzerTransient"
	ForwardDeliveryFailed Kind = "ForwardDeliveryFailed"
	Timeout               Kind = "Timeout"
	BrowserStepFailed     Kind = "BrowserStepFailed"
	UnknownRequestID      Kind = "UnknownRequestId"
)

// Error wraps an underlying cause with its Kind, so callers can branch
// on classification (fatal vs. per-request) without string matching.
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether this error kind should terminate the process
// rather than resolve a single request.
func (e *Error) Fatal() bool {
	return e.Kind == ConfigInvalid || e.Kind == ChildSpawnFailed
}
