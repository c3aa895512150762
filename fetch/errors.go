package fetch

import (
	"errors"
	"fmt"
)

// FetchError reports a single failed request. Status is the HTTP status for
// non-2xx responses and 0 for network-level failures (see Err).
type FetchError struct {
	Method string
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s %s: status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsStatus reports whether err is a FetchError carrying the given status.
func IsStatus(err error, status int) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Status == status
}

// ThrottleExceededError is returned by GetThrottled when every allowed
// attempt was answered with a non-2xx status.
type ThrottleExceededError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *ThrottleExceededError) Error() string {
	return fmt.Sprintf("fetch %s: still throttled after %d attempts: %v", e.URL, e.Attempts, e.Last)
}

func (e *ThrottleExceededError) Unwrap() error { return e.Last }
