package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
)

// Kind classifies an upstream failure
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimit
	KindAuth
	KindTimeout
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindAuth:
		return "authentication"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	default:
		return "unexpected"
	}
}

// APIError is a non-2xx answer from the proxy
type APIError struct {
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

func kindForStatus(code int) Kind {
	switch code {
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return KindConnection
	default:
		return KindUnknown
	}
}

// retryable reports whether a status is worth another attempt
func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// KindOf classifies any error returned by this package or the transport under it.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindConnection
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindConnection
	}

	return KindUnknown
}
