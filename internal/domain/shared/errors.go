package shared

import "errors"

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
)

// Synchronization errors
var (
	// ErrNoTransaction is returned when an outbox write is attempted outside of
	// an open database transaction.
	ErrNoTransaction = NewDomainError("NO_TRANSACTION", "Outbox writes require an open transaction")
	// ErrUnknownEventType is returned for envelopes whose type is not one of the
	// supported identity facts.
	ErrUnknownEventType = NewDomainError("UNKNOWN_EVENT_TYPE", "Unknown event type")
	// ErrMalformedEnvelope is returned when a message body cannot be decoded into
	// an envelope or its payload.
	ErrMalformedEnvelope = NewDomainError("MALFORMED_ENVELOPE", "Malformed event envelope")
	// ErrOutOfOrder is returned when an event arrives before the event it depends on
	// and the consumer is configured to defer it.
	ErrOutOfOrder = NewDomainError("OUT_OF_ORDER", "Event arrived before its predecessor")
	// ErrInvalidFact is returned when an outbox fact is missing data its kind requires.
	ErrInvalidFact = NewDomainError("INVALID_FACT", "Invalid identity fact")
	// ErrLeaseLost is returned when a relay tries to finish a record it no longer owns.
	ErrLeaseLost = NewDomainError("LEASE_LOST", "Outbox lease is no longer held")
)

// PermanentError marks a failure that will never succeed on retry.
// Messages failing with a permanent error are dead-lettered immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return err
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or any error it wraps, is permanent.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
