package fetch

import (
	"errors"
	"fmt"
)

// Common errors returned by the fetcher.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// StatusError is an upstream HTTP status treated as a transient failure
// inside the retry loop (429 or a retryable 5xx).
type StatusError struct {
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("retryable status code %d", e.StatusCode)
}

// permanentError marks a failure the retry loop must not repeat, such
// as an unparseable dataset URL.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// isRetryable determines if an error should be retried. Retryable
// statuses and transport-level failures are transient; everything else
// is permanent.
func isRetryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.StatusCode)
	}
	// Timeouts, connection resets and DNS failures surface here.
	return err != nil
}

// errorClassOf maps a transient error to its terminal classification
// once retries are exhausted.
func errorClassOf(err error) ErrorType {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == 429 {
			return ErrorRateLimited
		}
		return ErrorServer
	}
	return ErrorNetwork
}
