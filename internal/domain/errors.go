package domain

import "errors"

var (
	// ErrValidation is returned when input is malformed or an option is unknown
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState is returned when a job is not in a state that allows the operation
	ErrInvalidState = errors.New("job is not in a valid state for this operation")

	// ErrQuotaExceeded is returned when a free-tier user has no quota left
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrStorage is returned when the object store fails to read or write
	ErrStorage = errors.New("object storage failure")

	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrUserNotFound is returned when a user cannot be found in the database
	ErrUserNotFound = errors.New("user not found")

	// ErrUserBlocked is returned for suspended or blocked accounts
	ErrUserBlocked = errors.New("user is blocked")

	// ErrNoOptionsSelected is returned when confirming a job without any effective option
	ErrNoOptionsSelected = errors.New("no processing options selected")

	// ErrVersionConflict is returned when an optimistic update lost a race
	ErrVersionConflict = errors.New("job was modified concurrently")

	// ErrJobAlreadyClaimed is returned when a job is not claimable by a worker
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in pending status")

	// ErrInvalidPayload is returned when a task message is malformed
	ErrInvalidPayload = errors.New("invalid task payload")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// MaxErrorMessageLength bounds the error text persisted on a failed job
const MaxErrorMessageLength = 500

// TruncateErrorMessage shortens msg to MaxErrorMessageLength runes
func TruncateErrorMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= MaxErrorMessageLength {
		return msg
	}
	return string(runes[:MaxErrorMessageLength])
}
