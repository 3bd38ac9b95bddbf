package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStopped     = errors.New("task engine stopped")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("job skipped: previous run still in flight")
)

// NoRetry marks an error as permanent so the engine drops the job
// instead of retrying. Delivery uses this for webhook responses that
// will never succeed on a repeat attempt.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter carries an explicit delay hint, typically from a 429
// response. The engine waits at least this long before the next
// attempt instead of its usual backoff.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryDelay extracts an explicit retry hint, if the error carries one.
func RetryDelay(err error) (time.Duration, bool) {
	var e retryAfterError
	if errors.As(err, &e) {
		return e.after, true
	}
	return 0, false
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string {
	return fmt.Sprintf("retry-after(%s): %v", e.after, e.err)
}
func (e retryAfterError) Unwrap() error { return e.err }
