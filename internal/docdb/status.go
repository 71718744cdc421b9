package docdb

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Status codes used by the container.
const (
	StatusBadRequest            = http.StatusBadRequest
	StatusNotFound              = http.StatusNotFound
	StatusRequestTimeout        = http.StatusRequestTimeout
	StatusConflict              = http.StatusConflict
	StatusPreconditionFailed    = http.StatusPreconditionFailed
	StatusRequestEntityTooLarge = http.StatusRequestEntityTooLarge
	StatusTooManyRequests       = http.StatusTooManyRequests
	StatusInternalServerError   = http.StatusInternalServerError
	StatusServiceUnavailable    = http.StatusServiceUnavailable
	StatusGatewayTimeout        = http.StatusGatewayTimeout
)

// StatusError is a store failure with a status code.
type StatusError struct {
	Code int
	// RetryAfter is the delay suggested by the store, zero when absent.
	RetryAfter time.Duration
	Op         string
	Msg        string
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("docdb %s: %d %s (retry after %s)", e.Op, e.Code, e.Msg, e.RetryAfter)
	}
	return fmt.Sprintf("docdb %s: %d %s", e.Op, e.Code, e.Msg)
}

func newStatus(code int, op, format string, args ...any) *StatusError {
	return &StatusError{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// StatusCode extracts the status code from err, or 0 if err is not a *StatusError.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsNotFound reports a 404.
func IsNotFound(err error) bool { return StatusCode(err) == StatusNotFound }

// IsConflict reports a 409 or 412, i.e. a lost optimistic race.
func IsConflict(err error) bool {
	code := StatusCode(err)
	return code == StatusConflict || code == StatusPreconditionFailed
}

func msDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
