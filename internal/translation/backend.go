package translation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// Request is a single piece of text to translate
type Request struct {
	Text   string
	Source string
	Target string
}

// Route is the path a backend call takes: the proxy it goes through and the
// HTTP client bound to that proxy.
type Route struct {
	Proxy string
	HTTP  *http.Client
}

// Backend is a translation service reachable over HTTP
type Backend interface {
	// Translate performs one call through the given route. Failures should be
	// returned as *Error so they can be classified.
	Translate(ctx context.Context, route Route, req Request) (string, error)

	// Name returns the backend name
	Name() string
}

// Kind classifies a failed backend call
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindNotFound    Kind = "not_found"
	KindProxy       Kind = "proxy"
	KindTimeout     Kind = "timeout"
	KindBreaker     Kind = "breaker_open"
	KindBackend     Kind = "backend"
)

// Error is a failed backend call
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ProxyScoped reports whether the failure is tied to the proxy that carried
// the call rather than to the backend as a whole.
func (e *Error) ProxyScoped() bool {
	switch e.Kind {
	case KindRateLimited, KindNotFound, KindProxy, KindTimeout:
		return true
	}
	return false
}

// Classify maps any error returned by a backend call to a Kind
func Classify(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindProxy
	}

	return KindBackend
}

// wrapTransport converts a transport error into *Error
func wrapTransport(err error) error {
	return &Error{Kind: Classify(err), Err: err}
}

// statusError converts an unexpected HTTP status into *Error
func statusError(status int, err error) error {
	kind := KindBackend
	switch status {
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusProxyAuthRequired, http.StatusBadGateway, http.StatusGatewayTimeout:
		kind = KindProxy
	}
	return &Error{Kind: kind, StatusCode: status, Err: err}
}
