package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed request and drives the retry policy.
type Kind string

const (
	KindNetwork   Kind = "NetworkError"
	KindTimeout   Kind = "TimeoutError"
	KindAuth      Kind = "AuthError"
	KindForbidden Kind = "ForbiddenError"
	KindNotFound  Kind = "NotFoundError"
	KindServer    Kind = "ServerError"
	KindClient    Kind = "ClientError"
	KindParse     Kind = "ParseError"
	KindCanceled  Kind = "CanceledError"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrNetwork   = errors.New("network error")
	ErrTimeout   = errors.New("request timed out")
	ErrAuth      = errors.New("unauthorized")
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
	ErrServer    = errors.New("server error")
	ErrClient    = errors.New("client error")
	ErrParse     = errors.New("malformed response body")
	ErrCanceled  = errors.New("request canceled")
)

var kindSentinels = map[Kind]error{
	KindNetwork:   ErrNetwork,
	KindTimeout:   ErrTimeout,
	KindAuth:      ErrAuth,
	KindForbidden: ErrForbidden,
	KindNotFound:  ErrNotFound,
	KindServer:    ErrServer,
	KindClient:    ErrClient,
	KindParse:     ErrParse,
	KindCanceled:  ErrCanceled,
}

// Error is the record attached to every failed request.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Method  string
	URL     string
	Attempt int
	Err     error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: %s (%d): %s", e.Method, e.URL, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.URL, e.Kind, e.Message)
}

// Unwrap exposes the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}

// KindOf returns the Kind of err, or "" when err did not come from the client.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindServer
	default:
		return KindClient
	}
}
