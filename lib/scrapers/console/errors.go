package console

import (
	"errors"
	"fmt"
)

// fatal: the login flow could not produce a usable session.
var ErrLoginFailed = errors.New("failed to log in to the console")

// non-fatal: neither token strategy produced a csrf token. callers may
// keep going with the xsrf cookie value standing in for the csrf token.
var ErrTokenUnresolved = errors.New("csrf token could not be resolved")

// the server stopped honoring the session. recovered once by Execute,
// fatal on the retried attempt.
var ErrSessionExpired = errors.New("console session expired")

// TransientNetworkError covers 5xx responses and transport-level
// failures. it is never retried by the executor, callers decide.
type TransientNetworkError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *TransientNetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient failure on %s: %s", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("transient failure on %s: status %d", e.Endpoint, e.Status)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// PermanentRequestError covers non-auth 4xx responses. retrying cannot
// help, the request itself is wrong.
type PermanentRequestError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *PermanentRequestError) Error() string {
	return fmt.Sprintf("request to %s rejected with status %d: %s", e.Endpoint, e.Status, e.Body)
}
