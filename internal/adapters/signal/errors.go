package signal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/dkeye/Meet/internal/core"
)

var (
	ErrBackpressure = errors.New("signal: dispatch queue full")
	ErrNotConnected = errors.New("signal: not connected")
	ErrClosed       = errors.New("signal: channel closed")
	ErrNotFound     = core.ErrNotFound
)

// CodeNotFound is the application error code the server uses for stale references.
const CodeNotFound = 404

type RequestTimeoutError struct {
	Method   string
	Attempts int
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("signal: request %q timed out after %d attempts", e.Method, e.Attempts)
}

type ServerError struct {
	Method  string
	Code    int64
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("signal: %s: server error %d: %s", e.Method, e.Code, e.Message)
}

func (e *ServerError) Is(target error) bool {
	return target == ErrNotFound && e.notFound()
}

func (e *ServerError) notFound() bool {
	return e.Code == CodeNotFound || strings.Contains(strings.ToLower(e.Message), "not found")
}

func fromRPCError(method string, err *jsonrpc2.Error) *ServerError {
	return &ServerError{Method: method, Code: err.Code, Message: err.Message}
}

// IsNotFound reports whether err is an authoritative stale-reference error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTimeout reports whether err is a RequestTimeoutError.
func IsTimeout(err error) bool {
	var te *RequestTimeoutError
	return errors.As(err, &te)
}
