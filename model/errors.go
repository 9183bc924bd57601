package model

import (
	"errors"
	"fmt"
)

var (
	ErrCacheMiss         = errors.New("cache miss")
	ErrStorageFull       = errors.New("storage full: capacity cannot be satisfied even after eviction")
	ErrEmptyKey          = errors.New("entry key must not be empty")
	ErrQueueEmpty        = errors.New("operation queue is empty")
	ErrOperationNotFound = errors.New("operation not found")
	ErrCorruptRecord     = errors.New("corrupt record")
	ErrEngineClosed      = errors.New("engine is closed")
)

// TransportError reports a failed transmission to the remote system.
// Transient failures (timeouts, 5xx, dropped connections) are retried with
// backoff; permanent ones move the operation to failed-permanent directly.
type TransportError struct {
	Cause     error
	Permanent bool
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return "transport error"
	}

	return fmt.Sprintf("transport error: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

func NewTransportError(cause error) *TransportError {
	return &TransportError{Cause: cause}
}

func NewPermanentTransportError(cause error) *TransportError {
	return &TransportError{Cause: cause, Permanent: true}
}

// ConflictError is returned by the transport when the remote holds a newer
// version of the entity than the operation was based on. It is routed to
// the conflict resolver, never surfaced as a bare failure.
type ConflictError struct {
	RemoteState   []byte
	RemoteVersion string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: remote is at %s", e.RemoteVersion)
}

func AsConflictError(err error) (*ConflictError, bool) {
	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return conflictErr, true
	}

	return nil, false
}

func AsTransportError(err error) (*TransportError, bool) {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr, true
	}

	return nil, false
}
