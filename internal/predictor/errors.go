package predictor

import (
	"errors"
	"fmt"
)

// ServerError is returned when the backend answers with a non-2xx status.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server error: %d", e.StatusCode)
	}
	return fmt.Sprintf("server error: %d: %s", e.StatusCode, e.Body)
}

// ConnectivityError covers unreachable hosts, timeouts and bodies that
// cannot be decoded.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// IsRequestError reports whether err came from a prediction request, either
// a server-side failure or a connectivity failure.
func IsRequestError(err error) bool {
	var serverErr *ServerError
	var connErr *ConnectivityError
	return errors.As(err, &serverErr) || errors.As(err, &connErr)
}
