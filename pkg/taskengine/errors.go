package taskengine

import "errors"

// retryableError marks a failure the engine may run again.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so the engine requeues the task with backoff instead
// of failing it terminally. Wrapping nil returns nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err carries a Retryable marker anywhere in
// its chain.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}
