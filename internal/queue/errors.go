package queue

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Enqueue after the queue has been stopped.
var ErrStopped = errors.New("queue stopped")

// Permanent marks err as non-retryable. The job fails immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }
func (e permanentError) Unwrap() error { return e.err }
