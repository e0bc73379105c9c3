package domain

import "errors"

var (
	// ErrLeaseExpired is returned when a claim's visibility window elapsed before delete/extend
	ErrLeaseExpired = errors.New("lease expired")

	// ErrObjectNotFound is returned when an object-store key does not exist
	ErrObjectNotFound = errors.New("object not found")

	// ErrPredictionNotFound is returned when no summary exists for a job id (job still in flight)
	ErrPredictionNotFound = errors.New("prediction not found")

	// ErrFleetNotFound is returned when the named worker fleet does not exist
	ErrFleetNotFound = errors.New("fleet not found")

	// ErrConnectionLost is returned when a queue backend lost its broker connection for good.
	// Loops stop on it so the process exits and is restarted.
	ErrConnectionLost = errors.New("queue connection lost")
)

// TransientError wraps network or service faults that are retried by redelivery or the next cycle
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a new transient error
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// PermanentError wraps malformed input that must not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new permanent error
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// FetchError is returned when an input artifact cannot be downloaded
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return "fetch " + e.Key + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StorageError is returned when an artifact cannot be written to the object store
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return "store " + e.Key + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// FleetLookupError is returned when a fleet's capacity cannot be resolved
type FleetLookupError struct {
	Fleet string
	Err   error
}

func (e *FleetLookupError) Error() string {
	return "fleet lookup " + e.Fleet + ": " + e.Err.Error()
}

func (e *FleetLookupError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is expected to clear up on redelivery
func IsTransient(err error) bool {
	var (
		transient *TransientError
		fetch     *FetchError
		storage   *StorageError
	)
	return errors.As(err, &transient) || errors.As(err, &fetch) || errors.As(err, &storage)
}

// IsPermanent reports whether err marks input that can never succeed
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
