package resilience

import (
	"context"
	"errors"
	"net"
	"net/url"
	"syscall"
)

// StatusCoder is implemented by API errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatusCode() int
}

// Status returns the HTTP status carried anywhere in err's chain, or 0.
func Status(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	return 0
}

// RetryableStatus reports whether a provider response status is retried:
// 429 and every 5xx.
func RetryableStatus(code int) bool {
	return code == 429 || (code >= 500 && code <= 599)
}

// Retryable is the default provider retry predicate. Errors with an HTTP
// status retry only on RetryableStatus. Errors without one retry when they
// come from the transport: a failed round trip, a network timeout, or a
// reset or refused connection. Cancellation never retries.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if code := Status(err); code != 0 {
		return RetryableStatus(code)
	}

	// http.Client reports dial, TLS, and per-attempt deadline failures as *url.Error.
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
