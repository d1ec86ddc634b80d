package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind buckets gateway errors for the retry middleware.
type Kind int

const (
	// KindFatal covers rejections that retrying cannot fix: bad symbol,
	// insufficient margin, invalid parameters, missing credentials.
	KindFatal Kind = iota

	// KindRateLimit marks request-weight rejections; retried with
	// exponential backoff.
	KindRateLimit

	// KindTimestamp marks signature-timestamp rejections; the clock is
	// resynced and the call retried once.
	KindTimestamp

	// KindTransient covers network timeouts and 5xx responses. Read-only
	// calls may surface these directly; order-mutating calls wrap them as
	// ambiguous because the request may have reached the exchange.
	KindTransient
)

// Binance error codes the middleware reacts to.
const (
	codeInvalidTimestamp = -1021
	codeTooManyRequests  = -1003
)

// APIError is a structured exchange rejection.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange: http %d code %d: %s", e.HTTPStatus, e.Code, e.Message)
}

// AmbiguousError marks a mutating call whose outcome is unknown: the request
// may or may not have reached the exchange. Callers must re-fetch
// authoritative state before issuing any further mutating call.
type AmbiguousError struct {
	Op  string
	Err error
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("exchange: %s outcome unknown: %v", e.Op, e.Err)
}

func (e *AmbiguousError) Unwrap() error { return e.Err }

// IsAmbiguous reports whether err carries unknown order state.
func IsAmbiguous(err error) bool {
	var ae *AmbiguousError
	return errors.As(err, &ae)
}

// Classify maps an error onto a retry bucket.
func Classify(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == codeInvalidTimestamp:
			return KindTimestamp
		case apiErr.Code == codeTooManyRequests,
			apiErr.HTTPStatus == http.StatusTooManyRequests,
			apiErr.HTTPStatus == 418: // IP ban escalation counts as rate limiting
			return KindRateLimit
		case apiErr.HTTPStatus >= 500:
			return KindTransient
		default:
			return KindFatal
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindFatal
}
