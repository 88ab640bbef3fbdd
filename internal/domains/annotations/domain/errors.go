package domain

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks a subject whose retries are exhausted. It clears
// once the give-up cooldown elapses or a manual retry succeeds.
var ErrUnavailable = errors.New("annotation unavailable after repeated failures")

// FailureKind classifies why a remote fetch failed.
type FailureKind string

const (
	// FailureTransport covers network-level problems: DNS, connects,
	// timeouts, broken response bodies.
	FailureTransport FailureKind = "transport"
	// FailureThrottled marks an explicit throttle response. It is the
	// only kind that feeds the shared pause.
	FailureThrottled FailureKind = "throttled"
	// FailureProtocol covers unexpected statuses and malformed payloads.
	FailureProtocol FailureKind = "protocol"
)

// FetchError wraps a remote lookup failure with its classification.
type FetchError struct {
	Kind FailureKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TransportError classifies err as a network-level failure.
func TransportError(err error) *FetchError {
	return &FetchError{Kind: FailureTransport, Err: err}
}

// ThrottledError classifies err as an explicit throttle.
func ThrottledError(err error) *FetchError {
	return &FetchError{Kind: FailureThrottled, Err: err}
}

// ProtocolError classifies err as an unexpected status or payload shape.
func ProtocolError(err error) *FetchError {
	return &FetchError{Kind: FailureProtocol, Err: err}
}

// FailureKindOf extracts the classification from err, or "" when err
// carries none.
func FailureKindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
