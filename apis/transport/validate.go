package transport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrUnsupportedMethod is returned before any I/O when the verb is not
	// GET, PATCH or PUT.
	ErrUnsupportedMethod = errors.New("unsupported request method")
	ErrCircuitOpen       = errors.New("circuit breaker open")

	ErrAuth     = errors.New("auth error")
	ErrNotFound = errors.New("not found")
	ErrClient   = errors.New("client error")
	ErrServer   = errors.New("server error")
)

// Kind classifies a failed response.
type Kind int

const (
	KindAuth Kind = iota + 1
	KindNotFound
	KindClient
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth_error"
	case KindNotFound:
		return "not_found_error"
	case KindClient:
		return "client_error"
	case KindServer:
		return "server_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindAuth:
		return ErrAuth
	case KindNotFound:
		return ErrNotFound
	case KindClient:
		return ErrClient
	case KindServer:
		return ErrServer
	default:
		return nil
	}
}

// APIError is a response the service answered with an error status.
// It matches ErrAuth, ErrNotFound, ErrClient or ErrServer through errors.Is.
type APIError struct {
	Kind     Kind
	Response *resty.Response
}

// StatusCode returns the HTTP status of the offending response.
func (e *APIError) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode()
}

func (e *APIError) Error() string {
	if e.Response == nil || e.Response.Request == nil {
		return fmt.Sprintf("%s: status %d", e.Kind, e.StatusCode())
	}
	return fmt.Sprintf("%s: %s %s: status %d: %s",
		e.Kind, e.Response.Request.Method, e.Response.Request.URL, e.StatusCode(), truncate(e.Response.Body(), 256))
}

func (e *APIError) Unwrap() error {
	return e.Kind.sentinel()
}

// Classify maps an HTTP status to an error kind. It reports false for
// statuses that are not errors (1xx, 2xx, 3xx).
func Classify(status int) (Kind, bool) {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth, true
	case status == http.StatusNotFound:
		return KindNotFound, true
	case status >= 400 && status <= 499:
		return KindClient, true
	case status >= 500:
		return KindServer, true
	default:
		return 0, false
	}
}

// Validate passes successful responses through unchanged and turns error
// statuses into an *APIError carrying the response.
func Validate(resp *resty.Response) (*resty.Response, error) {
	if resp == nil {
		return nil, errors.New("validate: nil response")
	}
	if kind, failed := Classify(resp.StatusCode()); failed {
		return nil, &APIError{Kind: kind, Response: resp}
	}
	return resp, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
